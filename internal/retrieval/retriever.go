package retrieval

import (
	"context"
)

// ContextChunk is a retrieved passage with its similarity score.
type ContextChunk struct {
	ID           string
	DocumentID   string
	DocumentName string
	Text         string
	Score        float32
}

// Retriever combines embedding and vector search to find relevant passages.
type Retriever struct {
	embedder *Embedder
	store    VectorStore
}

// NewRetriever creates a Retriever backed by the given Embedder and VectorStore.
func NewRetriever(embedder *Embedder, store VectorStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve embeds the query and returns the top-K most similar passages.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]ContextChunk, error) {
	if topK <= 0 {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	scored, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, err
	}
	return scoredToChunks(scored), nil
}

func scoredToChunks(scored []ScoredRecord) []ContextChunk {
	chunks := make([]ContextChunk, len(scored))
	for i, s := range scored {
		chunks[i] = ContextChunk{
			ID:           s.ID,
			DocumentID:   s.DocumentID,
			DocumentName: s.DocumentName,
			Text:         s.TextChunk,
			Score:        s.Score,
		}
	}
	return chunks
}
