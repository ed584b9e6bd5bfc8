// Package index builds the process-wide vector index over the ingested
// corpus and memoizes it.
package index

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/kalambet/kbchat/internal/retrieval"
)

// ErrIndexBuild is returned when embedding or storing the corpus fails.
var ErrIndexBuild = errors.New("index build failed")

// DocumentInfo describes one indexed document.
type DocumentInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Chunks      int    `json:"chunks"`
}

// Stats summarises a built index.
type Stats struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	BuiltAt   time.Time     `json:"built_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Index is the read-only vector index over one ingestion pass.
type Index struct {
	retriever *retrieval.Retriever
	docs      []DocumentInfo
	stats     Stats
}

// Retrieve returns the topK passages most similar to query.
func (ix *Index) Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error) {
	return ix.retriever.Retrieve(ctx, query, topK)
}

// Documents returns the indexed documents in ingestion order.
func (ix *Index) Documents() []DocumentInfo {
	return slices.Clone(ix.docs)
}

func (ix *Index) Stats() Stats {
	return ix.stats
}
