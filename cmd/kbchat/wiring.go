package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kalambet/kbchat/internal/chat"
	"github.com/kalambet/kbchat/internal/config"
	"github.com/kalambet/kbchat/internal/extract"
	"github.com/kalambet/kbchat/internal/index"
	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/llm"
	"github.com/kalambet/kbchat/internal/metrics"
	"github.com/kalambet/kbchat/internal/ollama"
	"github.com/kalambet/kbchat/internal/retrieval"
	"github.com/kalambet/kbchat/internal/source"
	"github.com/kalambet/kbchat/internal/storage"
)

// chunkOverlap is the number of sentences repeated between neighbouring chunks.
const chunkOverlap = 1

// app is the process-wide object graph shared by every command that answers
// questions.
type app struct {
	cfg      config.Config
	store    *storage.Store
	metrics  *metrics.Metrics
	pipeline *ingest.Pipeline
	cache    *index.Cache
	sessions *chat.Manager

	closers []func() error
}

type appOptions struct {
	// OnProgress is forwarded to the ingestion pipeline.
	OnProgress func(done, total int, name string)
}

func setupLogging(w io.Writer, level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})))
}

func openLogFile(dataDir string) (*os.File, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dataDir, "kbchat.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}

func newApp(ctx context.Context, cfg config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.store, err = storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.closers = append(a.closers, a.store.Close)

	src, err := newSource(ctx, cfg.Source)
	if err != nil {
		return nil, err
	}
	a.pipeline = ingest.NewPipeline(src, extract.New(), ingest.Options{
		SkipFailures: cfg.Ingest.SkipFailures,
		OnProgress:   opts.OnProgress,
		Recorder:     a.metrics,
	})

	client := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.BaseURL)

	embedder, err := newEmbedder(ctx, cfg, client)
	if err != nil {
		return nil, err
	}

	vectors, err := a.newVectorStore(cfg.Index.Backend)
	if err != nil {
		return nil, err
	}

	chunker := retrieval.NewSentenceChunker(cfg.Retrieval.ChunkSentences, chunkOverlap)
	builder := index.NewBuilder(chunker, embedder, vectors, a.metrics)
	a.cache = index.NewCache(index.FromPipeline(a.pipeline, builder))

	engine := chat.NewEngine(a.cache, client, chat.Options{
		Model:            cfg.LLM.Model,
		Temperature:      cfg.LLM.Temperature,
		SystemPrompt:     cfg.LLM.SystemPrompt,
		Greeting:         cfg.Chat.Greeting,
		TopK:             cfg.Retrieval.TopK,
		MaxContextTokens: cfg.Chat.MaxContextTokens,
		Recorder:         storeRecorder{store: a.store},
		Observer:         a.metrics,
	})
	a.sessions = chat.NewManager(engine)
	return a, nil
}

// Close releases every resource opened by newApp, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// newVectorStore creates the per-process vector backend. The SQLite backend
// uses a private in-memory database so every process starts from an empty
// index.
func (a *app) newVectorStore(backend string) (retrieval.VectorStore, error) {
	switch backend {
	case "sqlite":
		mem, err := storage.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("opening vector database: %w", err)
		}
		a.closers = append(a.closers, mem.Close)
		return retrieval.NewSQLiteStore(mem.DB()), nil
	case "chromem", "":
		return retrieval.NewChromemStore()
	default:
		return nil, fmt.Errorf("unknown index backend %q", backend)
	}
}

func newSource(ctx context.Context, sc config.SourceConfig) (source.Source, error) {
	switch sc.Kind {
	case "drive":
		files, err := source.NewDriveService(ctx, sc.DriveServiceAccount, sc.DriveCredentialsFile)
		if err != nil {
			return nil, err
		}
		return source.NewDrive(files, sc.DriveFolderID, sc.DriveChunkSize), nil
	case "local", "":
		return source.NewLocal(sc.LocalDir, sc.IgnorePatterns())
	default:
		return nil, fmt.Errorf("unknown source kind %q", sc.Kind)
	}
}

func newEmbedder(ctx context.Context, cfg config.Config, client *llm.Client) (*retrieval.Embedder, error) {
	if cfg.Embed.Backend != "ollama" {
		return retrieval.NewEmbedder(client, cfg.Embed.Model), nil
	}
	oc := ollama.New(cfg.Ollama.BaseURL)
	if err := ollama.EnsureReady(ctx, oc, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return nil, err
	}
	return retrieval.NewEmbedder(oc, cfg.Ollama.EmbedModel), nil
}

// loadConfig loads and validates config, then installs the default logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	setupLogging(os.Stderr, cfg.Log.Level)
	return cfg, nil
}
