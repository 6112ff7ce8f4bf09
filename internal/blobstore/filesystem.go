package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mammothbox/mammothbox/internal/errs"
)

// FilesystemStore is a local-disk Store addressed by fs:// URIs relative
// to basePath. Ported from the original filesystem storage backend:
// incoming/, media/clusters/, media/derived/ as the three top-level
// trees, with empty parent directories pruned on delete (but never the
// three tree roots themselves).
type FilesystemStore struct {
	basePath string
}

func NewFilesystemStore(basePath string) (*FilesystemStore, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, errs.Storage("resolve base path", err)
	}
	fs := &FilesystemStore{basePath: abs}
	for _, dir := range fs.roots() {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.Storage("create storage directory", err)
		}
	}
	return fs, nil
}

func (f *FilesystemStore) roots() []string {
	return []string{
		filepath.Join(f.basePath, "incoming"),
		filepath.Join(f.basePath, "media", "clusters"),
		filepath.Join(f.basePath, "media", "derived"),
	}
}

func (f *FilesystemStore) uriToPath(uri string) (string, error) {
	if !strings.HasPrefix(uri, "fs://") {
		return "", errs.Validation("invalid URI scheme: " + uri)
	}
	rel := strings.TrimPrefix(uri, "fs://")
	return filepath.Join(f.basePath, filepath.FromSlash(rel)), nil
}

func (f *FilesystemStore) pathToURI(path string) (string, error) {
	rel, err := filepath.Rel(f.basePath, path)
	if err != nil {
		return "", errs.Storage("relativize path", err)
	}
	return "fs://" + filepath.ToSlash(rel), nil
}

// writeAtomic writes r to targetDir/filename via a temp file in the same
// directory, renamed into place on success, so a reader never observes a
// partially written file.
func writeAtomic(targetDir, filename string, r io.Reader) (string, error) {
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return "", errs.Storage("create target directory", err)
	}
	tmp, err := os.CreateTemp(targetDir, ".tmp-*")
	if err != nil {
		return "", errs.Storage("create temp file", err)
	}
	tmpPath := tmp.Name()
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", errs.Storage("write file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", errs.Storage("close file", err)
	}
	targetPath := filepath.Join(targetDir, filename)
	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)
		return "", errs.Storage("rename into place", err)
	}
	return targetPath, nil
}

func (f *FilesystemStore) StoreRaw(ctx context.Context, requestID, partID, filename string, r io.Reader) (string, error) {
	dir := filepath.Join(f.basePath, "incoming", requestID, partID)
	path, err := writeAtomic(dir, filename, r)
	if err != nil {
		return "", err
	}
	return f.pathToURI(path)
}

func (f *FilesystemStore) StoreMedia(ctx context.Context, clusterID, assetID, filename string, r io.Reader) (string, error) {
	dir := filepath.Join(f.basePath, "media", "clusters", clusterID)
	path, err := writeAtomic(dir, filename, r)
	if err != nil {
		return "", err
	}
	return f.pathToURI(path)
}

func (f *FilesystemStore) StoreDerived(ctx context.Context, clusterID, assetID, filename string, r io.Reader) (string, error) {
	dir := filepath.Join(f.basePath, "media", "derived", clusterID, assetID)
	path, err := writeAtomic(dir, filename, r)
	if err != nil {
		return "", err
	}
	return f.pathToURI(path)
}

func (f *FilesystemStore) Retrieve(ctx context.Context, uri string) (io.ReadCloser, error) {
	path, err := f.uriToPath(uri)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.NotFound("file not found: " + uri)
		}
		return nil, errs.Storage("open file", err)
	}
	return file, nil
}

func (f *FilesystemStore) Exists(ctx context.Context, uri string) (bool, error) {
	path, err := f.uriToPath(uri)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errs.Storage("stat file", err)
	}
	return !info.IsDir(), nil
}

func (f *FilesystemStore) Size(ctx context.Context, uri string) (int64, error) {
	path, err := f.uriToPath(uri)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errs.NotFound("file not found: " + uri)
		}
		return 0, errs.Storage("stat file", err)
	}
	return info.Size(), nil
}

func (f *FilesystemStore) Delete(ctx context.Context, uri string) error {
	path, err := f.uriToPath(uri)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return errs.NotFound("file not found: " + uri)
		}
		return errs.Storage("stat file", err)
	}
	if err := os.Remove(path); err != nil {
		return errs.Storage("remove file", err)
	}

	roots := make(map[string]bool)
	for _, r := range f.roots() {
		roots[r] = true
	}
	roots[filepath.Join(f.basePath, "media")] = true

	parent := filepath.Dir(path)
	for !roots[parent] && parent != f.basePath {
		entries, err := os.ReadDir(parent)
		if err != nil || len(entries) > 0 {
			break
		}
		if err := os.Remove(parent); err != nil {
			break
		}
		parent = filepath.Dir(parent)
	}
	return nil
}

func (f *FilesystemStore) List(ctx context.Context, prefix string) ([]string, error) {
	if isGlobPattern(prefix) {
		return f.listGlob(prefix)
	}

	var root string
	if prefix == "" {
		root = f.basePath
	} else {
		p, err := f.uriToPath(prefix)
		if err != nil {
			// Bare relative prefixes (no fs:// scheme) are resolved
			// against the base path directly.
			root = filepath.Join(f.basePath, filepath.FromSlash(prefix))
		} else {
			root = p
		}
	}

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}

	var uris []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		uri, err := f.pathToURI(path)
		if err != nil {
			return err
		}
		uris = append(uris, uri)
		return nil
	})
	if err != nil {
		return nil, errs.Storage("walk directory", err)
	}
	return uris, nil
}

// listGlob walks the whole tree matching each file's fs:// URI against a
// doublestar pattern, e.g. "media/clusters/**/*.jpg".
func (f *FilesystemStore) listGlob(pattern string) ([]string, error) {
	var uris []string
	err := filepath.Walk(f.basePath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		uri, err := f.pathToURI(path)
		if err != nil {
			return err
		}
		if matchesGlob(pattern, strings.TrimPrefix(uri, "fs://")) {
			uris = append(uris, uri)
		}
		return nil
	})
	if err != nil {
		return nil, errs.Storage("walk directory", err)
	}
	return uris, nil
}
