// Package source lists and fetches the raw files that make up the corpus.
package source

import (
	"context"
	"errors"
)

// ErrSourceUnavailable is returned when the corpus cannot be listed or read.
// Callers treat it as fatal: a partial corpus is never returned.
var ErrSourceUnavailable = errors.New("source unavailable")

// File is one fetched corpus file. Data holds the complete payload.
type File struct {
	ID          string
	Name        string
	ContentType string
	Data        []byte
}

// Size returns the payload length in bytes.
func (f File) Size() int {
	return len(f.Data)
}

// Source yields the full set of corpus files in one pass.
type Source interface {
	Name() string
	List(ctx context.Context) ([]File, error)
}
