// Package ingest runs the one-shot fetch, extract and build pass that
// produces the document list handed to index construction.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/kbchat/internal/extract"
	"github.com/kalambet/kbchat/internal/source"
)

// Extractor converts a fetched file into text.
type Extractor interface {
	Extract(ctx context.Context, f source.File) (string, error)
}

// Recorder receives a count per built document.
type Recorder interface {
	DocumentIngested(contentType string)
}

// Options tune a Pipeline.
type Options struct {
	// SkipFailures skips files that fail to decode instead of aborting the pass.
	SkipFailures bool
	// OnProgress, if set, is called after each file is processed.
	OnProgress func(done, total int, name string)
	Recorder   Recorder
}

// Pipeline loads the corpus: source, then extractor, then document builder.
type Pipeline struct {
	source    source.Source
	extractor Extractor
	opts      Options
	logger    *slog.Logger
}

func NewPipeline(src source.Source, ext Extractor, opts Options) *Pipeline {
	return &Pipeline{
		source:    src,
		extractor: ext,
		opts:      opts,
		logger:    slog.Default(),
	}
}

// Source returns the configured document source.
func (p *Pipeline) Source() source.Source {
	return p.source
}

// Load runs one full ingestion pass. Unsupported content types are always
// fatal; decode failures are fatal unless SkipFailures is set.
func (p *Pipeline) Load(ctx context.Context) ([]Document, error) {
	files, err := p.source.List(ctx)
	if err != nil {
		return nil, err
	}
	p.logger.Info("source listed", "source", p.source.Name(), "files", len(files))

	docs := make([]Document, 0, len(files))
	for i, f := range files {
		text, err := p.extractor.Extract(ctx, f)
		switch {
		case err == nil:
		case errors.Is(err, extract.ErrDecode) && p.opts.SkipFailures:
			p.logger.Warn("skipping undecodable file", "name", f.Name, "error", err)
			p.progress(i+1, len(files), f.Name)
			continue
		default:
			return nil, fmt.Errorf("extracting %s: %w", f.Name, err)
		}

		if strings.TrimSpace(text) == "" {
			p.logger.Warn("document has no text", "name", f.Name, "content_type", f.ContentType)
		}
		docs = append(docs, NewDocument(f, text))
		if p.opts.Recorder != nil {
			p.opts.Recorder.DocumentIngested(extract.MediaType(f.ContentType))
		}
		p.progress(i+1, len(files), f.Name)
	}
	return docs, nil
}

func (p *Pipeline) progress(done, total int, name string) {
	if p.opts.OnProgress != nil {
		p.opts.OnProgress(done, total, name)
	}
}
