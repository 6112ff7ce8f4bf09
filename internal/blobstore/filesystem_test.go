package blobstore

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	fs, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := fs.StoreRaw(ctx, "req-1", "part-1", "payload.json", strings.NewReader(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "fs://incoming/req-1/part-1/"))

	exists, err := fs.Exists(ctx, uri)
	require.NoError(t, err)
	assert.True(t, exists)

	size, err := fs.Size(ctx, uri)
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)

	rc, err := fs.Retrieve(ctx, uri)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}

func TestFilesystemStoreDeleteCleansEmptyDirs(t *testing.T) {
	fs, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := fs.StoreMedia(ctx, "cluster-1", "asset-1", "photo.jpg", strings.NewReader("binarydata"))
	require.NoError(t, err)

	require.NoError(t, fs.Delete(ctx, uri))

	exists, err := fs.Exists(ctx, uri)
	require.NoError(t, err)
	assert.False(t, exists)

	// cluster-1's directory should have been pruned since it's now empty,
	// but the media/clusters root must survive.
	listed, err := fs.List(ctx, "media/clusters")
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestFilesystemStoreNotFound(t *testing.T) {
	fs, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.Retrieve(ctx, "fs://incoming/missing/part/file.bin")
	require.Error(t, err)

	err = fs.Delete(ctx, "fs://incoming/missing/part/file.bin")
	require.Error(t, err)
}

func TestFilesystemStoreListGlob(t *testing.T) {
	fs, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = fs.StoreMedia(ctx, "cluster-1", "asset-1", "a.jpg", strings.NewReader("x"))
	require.NoError(t, err)
	_, err = fs.StoreMedia(ctx, "cluster-1", "asset-2", "b.png", strings.NewReader("y"))
	require.NoError(t, err)

	matches, err := fs.List(ctx, "media/clusters/**/*.jpg")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.True(t, strings.HasSuffix(matches[0], "a.jpg"))
}

func TestStoreDerivedCompressedRoundTrip(t *testing.T) {
	fs, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := StoreDerivedCompressed(ctx, fs, "cluster-1", "asset-1", "thumb.bin", strings.NewReader("thumbnail-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(uri, ".gz"))

	rc, err := RetrieveDecompressed(ctx, fs, uri)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "thumbnail-bytes", string(data))
}
