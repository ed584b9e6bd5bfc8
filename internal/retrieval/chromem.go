package retrieval

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strconv"

	chromem "github.com/philippgille/chromem-go"
)

var _ VectorStore = (*ChromemStore)(nil)

// ChromemStore is an in-memory VectorStore backed by a chromem-go collection.
// Embeddings are always supplied by the caller.
type ChromemStore struct {
	collection *chromem.Collection
}

// NewChromemStore creates a fresh, non-persistent collection.
func NewChromemStore() (*ChromemStore, error) {
	db := chromem.NewDB()
	collection, err := db.CreateCollection("kbchat", nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("creating collection: %w", err)
	}
	return &ChromemStore{collection: collection}, nil
}

// noEmbedding guards against chromem computing embeddings itself.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem store: embeddings must be precomputed")
}

func (s *ChromemStore) Insert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.ID,
			Content:   r.TextChunk,
			Embedding: r.Embedding,
			Metadata: map[string]string{
				"document_id":   r.DocumentID,
				"document_name": r.DocumentName,
				"seq":           strconv.Itoa(r.Seq),
			},
		}
	}
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding documents: %w", err)
	}
	return nil
}

// Search clamps topK to the collection size, which chromem requires.
func (s *ChromemStore) Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error) {
	n := min(topK, s.collection.Count())
	if n <= 0 || norm(vector) == 0 {
		return nil, nil
	}

	res, err := s.collection.QueryEmbedding(ctx, vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	out := make([]ScoredRecord, len(res))
	for i, r := range res {
		seq, _ := strconv.Atoi(r.Metadata["seq"])
		out[i] = ScoredRecord{
			Record: Record{
				ID:           r.ID,
				DocumentID:   r.Metadata["document_id"],
				DocumentName: r.Metadata["document_name"],
				Seq:          seq,
				TextChunk:    r.Content,
				Embedding:    r.Embedding,
			},
			Score: r.Similarity,
		}
	}
	return out, nil
}

func (s *ChromemStore) Count(context.Context) (int, error) {
	return s.collection.Count(), nil
}
