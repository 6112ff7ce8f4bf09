package blobstore

import (
	"context"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/mammothbox/mammothbox/internal/errs"
)

// StoreDerivedCompressed gzip-compresses r before handing it to the
// backing Store, for derived artifacts (thumbnails, extracted frames)
// where disk/network footprint matters more than read latency.
func StoreDerivedCompressed(ctx context.Context, s Store, clusterID, assetID, filename string, r io.Reader) (string, error) {
	pr, pw := io.Pipe()
	gz := gzip.NewWriter(pw)

	go func() {
		_, err := io.Copy(gz, r)
		closeErr := gz.Close()
		if err == nil {
			err = closeErr
		}
		pw.CloseWithError(err)
	}()

	return s.StoreDerived(ctx, clusterID, assetID, filename+".gz", pr)
}

// RetrieveDecompressed reverses StoreDerivedCompressed.
func RetrieveDecompressed(ctx context.Context, s Store, uri string) (io.ReadCloser, error) {
	raw, err := s.Retrieve(ctx, uri)
	if err != nil {
		return nil, err
	}
	gz, err := gzip.NewReader(raw)
	if err != nil {
		raw.Close()
		return nil, errs.Storage("open gzip stream", err)
	}
	return &gzipReadCloser{gz: gz, raw: raw}, nil
}

type gzipReadCloser struct {
	gz  *gzip.Reader
	raw io.ReadCloser
}

func (g *gzipReadCloser) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipReadCloser) Close() error {
	gzErr := g.gz.Close()
	rawErr := g.raw.Close()
	if gzErr != nil {
		return gzErr
	}
	return rawErr
}
