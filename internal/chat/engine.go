// Package chat runs condense-question chat sessions over the shared index.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/kalambet/kbchat/internal/composer"
	"github.com/kalambet/kbchat/internal/llm"
	"github.com/kalambet/kbchat/internal/retrieval"
)

var (
	// ErrAnswer is returned when condensing, retrieval or the LLM fails.
	ErrAnswer = errors.New("answer failed")
	// ErrSessionBusy is returned by Ask while a previous answer is in flight.
	ErrSessionBusy = errors.New("session is busy answering")
	// ErrSessionNotFound is returned by Manager.Get for unknown IDs.
	ErrSessionNotFound = errors.New("session not found")
)

const DefaultGreeting = "Ask me a question about the knowledge base"

// Retriever finds passages relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int) ([]retrieval.ContextChunk, error)
}

// Completer is the LLM collaborator.
type Completer interface {
	Complete(ctx context.Context, req llm.ChatRequest) (string, error)
	Stream(ctx context.Context, req llm.ChatRequest) (*llm.Stream, error)
}

// Recorder persists sessions and appended messages. Failures are logged and
// never interrupt the chat.
type Recorder interface {
	SessionStarted(id, origin string, at time.Time) error
	MessageAppended(sessionID string, m Message) error
}

// Observer receives answer outcomes.
type Observer interface {
	AnswerObserved(status string, d time.Duration)
}

// Options configure an Engine. They are fixed for the life of the process.
type Options struct {
	Model            string
	Temperature      float64
	SystemPrompt     string
	Greeting         string
	TopK             int
	MaxContextTokens int

	Recorder Recorder
	Observer Observer
}

// Engine holds what all sessions share: the index, the LLM and settings.
type Engine struct {
	retriever Retriever
	llm       Completer
	composer  *composer.Composer
	opts      Options
	logger    *slog.Logger
}

func NewEngine(idx Retriever, c Completer, opts Options) *Engine {
	if opts.Greeting == "" {
		opts.Greeting = DefaultGreeting
	}
	if opts.TopK <= 0 {
		opts.TopK = 2
	}
	return &Engine{
		retriever: idx,
		llm:       c,
		composer:  composer.New(opts.MaxContextTokens, opts.SystemPrompt),
		opts:      opts,
		logger:    slog.Default(),
	}
}

// NewSession starts a session with a fresh transcript holding the greeting.
func (e *Engine) NewSession(id, origin string) *Session {
	s := &Session{
		id:         id,
		origin:     origin,
		createdAt:  time.Now().UTC(),
		engine:     e,
		transcript: NewTranscript(e.opts.Greeting),
	}
	if r := e.opts.Recorder; r != nil {
		if err := r.SessionStarted(id, origin, s.createdAt); err != nil {
			e.logger.Warn("recording session", "session", id, "error", err)
		}
		for _, m := range s.transcript.Messages() {
			e.record(id, m)
		}
	}
	return s
}

func (e *Engine) request(msgs []llm.Message) llm.ChatRequest {
	return llm.ChatRequest{Model: e.opts.Model, Messages: msgs}.WithTemperature(e.opts.Temperature)
}

func (e *Engine) record(sessionID string, m Message) {
	if e.opts.Recorder == nil {
		return
	}
	if err := e.opts.Recorder.MessageAppended(sessionID, m); err != nil {
		e.logger.Warn("recording message", "session", sessionID, "role", m.Role, "error", err)
	}
}

func (e *Engine) observe(status string, d time.Duration) {
	if e.opts.Observer != nil {
		e.opts.Observer.AnswerObserved(status, d)
	}
}
