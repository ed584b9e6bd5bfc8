package index

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/retrieval"
)

// Recorder observes completed builds.
type Recorder interface {
	IndexBuilt(d time.Duration, chunks int)
}

// Builder turns documents into an Index: chunk, embed, store.
type Builder struct {
	chunker  *retrieval.SentenceChunker
	embedder *retrieval.Embedder
	store    retrieval.VectorStore
	recorder Recorder
	logger   *slog.Logger
}

// NewBuilder creates a Builder writing into store. recorder may be nil.
func NewBuilder(chunker *retrieval.SentenceChunker, embedder *retrieval.Embedder, store retrieval.VectorStore, recorder Recorder) *Builder {
	return &Builder{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		recorder: recorder,
		logger:   slog.Default(),
	}
}

// Build indexes docs. Documents with no text are listed but contribute no
// chunks. A nil or empty docs yields an empty, usable Index.
func (b *Builder) Build(ctx context.Context, docs []ingest.Document) (*Index, error) {
	start := time.Now()

	infos := make([]DocumentInfo, len(docs))
	var chunks []retrieval.Chunk
	for i, d := range docs {
		dc := b.chunker.Chunk(d.ID, d.Name, d.Text)
		infos[i] = DocumentInfo{ID: d.ID, Name: d.Name, ContentType: d.ContentType, Chunks: len(dc)}
		chunks = append(chunks, dc...)
	}

	if len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Text
		}
		vecs, err := b.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrIndexBuild, err)
		}

		now := time.Now().UTC()
		records := make([]retrieval.Record, len(chunks))
		for i, c := range chunks {
			records[i] = retrieval.Record{
				ID:           c.ID,
				DocumentID:   c.DocumentID,
				DocumentName: c.DocumentName,
				Seq:          c.Seq,
				TextChunk:    c.Text,
				Embedding:    vecs[i],
				CreatedAt:    now,
			}
		}
		if err := b.store.Insert(ctx, records); err != nil {
			return nil, fmt.Errorf("%w: storing chunks: %w", ErrIndexBuild, err)
		}
	}

	elapsed := time.Since(start)
	if b.recorder != nil {
		b.recorder.IndexBuilt(elapsed, len(chunks))
	}
	b.logger.Info("index built", "documents", len(docs), "chunks", len(chunks), "duration", elapsed)

	return &Index{
		retriever: retrieval.NewRetriever(b.embedder, b.store),
		docs:      infos,
		stats: Stats{
			Documents: len(docs),
			Chunks:    len(chunks),
			BuiltAt:   start.UTC(),
			Duration:  elapsed,
		},
	}, nil
}
