package retrieval

import (
	"context"
	"time"
)

// VectorStore holds chunk embeddings and answers nearest-neighbour queries.
// Implementations are safe for concurrent use.
type VectorStore interface {
	// Insert adds records. IDs must be unique.
	Insert(ctx context.Context, records []Record) error

	// Search returns up to topK records ordered by descending cosine similarity.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)
}

// Record is one embedded chunk.
type Record struct {
	ID           string
	DocumentID   string
	DocumentName string
	Seq          int
	TextChunk    string
	Embedding    []float32
	CreatedAt    time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}
