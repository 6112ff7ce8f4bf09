// Package blobstore implements C2: content-addressed blob storage behind
// one interface, backed either by the local filesystem or S3.
package blobstore

import (
	"context"
	"io"
)

// Store is the backend-agnostic contract every asset byte stream flows
// through. URIs are opaque to callers - only the Store that produced one
// knows how to resolve it.
type Store interface {
	// StoreRaw lays down an as-uploaded part before any processing has
	// run: incoming/{requestID}/{partID}/{filename}.
	StoreRaw(ctx context.Context, requestID, partID, filename string, r io.Reader) (uri string, err error)

	// StoreMedia persists a processed media asset under its cluster:
	// media/clusters/{clusterID}/{filename}.
	StoreMedia(ctx context.Context, clusterID, assetID, filename string, r io.Reader) (uri string, err error)

	// StoreDerived persists a derived artifact (thumbnail, transcode,
	// extracted frame): media/derived/{clusterID}/{assetID}/{filename}.
	StoreDerived(ctx context.Context, clusterID, assetID, filename string, r io.Reader) (uri string, err error)

	Retrieve(ctx context.Context, uri string) (io.ReadCloser, error)
	Exists(ctx context.Context, uri string) (bool, error)
	Delete(ctx context.Context, uri string) error
	Size(ctx context.Context, uri string) (int64, error)

	// List returns every object URI whose path begins with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
