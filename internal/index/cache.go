package index

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/retrieval"
)

// LoadFunc produces the Index. A Cache calls it at most once.
type LoadFunc func(ctx context.Context) (*Index, error)

// DocumentLoader yields the corpus for one ingestion pass.
type DocumentLoader interface {
	Load(ctx context.Context) ([]ingest.Document, error)
}

// FromPipeline returns a LoadFunc running one ingestion pass through loader
// and building the result with b.
func FromPipeline(loader DocumentLoader, b *Builder) LoadFunc {
	return func(ctx context.Context) (*Index, error) {
		docs, err := loader.Load(ctx)
		if err != nil {
			return nil, err
		}
		return b.Build(ctx, docs)
	}
}

// Cache memoizes the Index for the life of the process. The first Get runs
// load; concurrent callers block until it finishes and all receive the same
// *Index, or the same error. A failed build is never retried.
type Cache struct {
	load LoadFunc

	mu   sync.Mutex
	done bool
	idx  *Index
	err  error

	ready atomic.Pointer[Index]
}

func NewCache(load LoadFunc) *Cache {
	return &Cache{load: load}
}

// Get returns the Index, building it on first call.
func (c *Cache) Get(ctx context.Context) (*Index, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.done {
		c.idx, c.err = c.load(ctx)
		c.done = true
		if c.err == nil {
			c.ready.Store(c.idx)
		}
	}
	return c.idx, c.err
}

// Ready returns the Index without blocking, or nil if it has not been built.
func (c *Cache) Ready() *Index {
	return c.ready.Load()
}

// Retrieve builds the Index if needed and searches it. It lets consumers
// hold the Cache before the first build.
func (c *Cache) Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error) {
	idx, err := c.Get(ctx)
	if err != nil {
		return nil, err
	}
	return idx.Retrieve(ctx, query, topK)
}
