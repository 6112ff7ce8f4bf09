package blobstore

import "github.com/bmatcuk/doublestar/v4"

// isGlobPattern reports whether prefix contains glob metacharacters,
// letting List callers pass either a plain path prefix ("incoming/req-1")
// or a doublestar pattern ("media/**/*.jpg").
func isGlobPattern(prefix string) bool {
	for _, r := range prefix {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

func matchesGlob(pattern, path string) bool {
	ok, err := doublestar.Match(pattern, path)
	return err == nil && ok
}
