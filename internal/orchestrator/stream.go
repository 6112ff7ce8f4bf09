package orchestrator

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
)

// countingReader tracks bytes read and flags once a ceiling is crossed,
// so oversized uploads are rejected mid-stream rather than after the
// full body has been buffered.
type countingReader struct {
	r        io.Reader
	n        int64
	max      int64
	exceeded bool
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	if c.max > 0 && c.n > c.max {
		c.exceeded = true
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
	}
	return n, err
}

type shaHasher struct {
	h hash.Hash
}

func newHasher() *shaHasher {
	return &shaHasher{h: sha256.New()}
}

func (s *shaHasher) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

func (s *shaHasher) sum() string {
	return hex.EncodeToString(s.h.Sum(nil))
}

func contentHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
