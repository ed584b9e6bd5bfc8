package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/kbchat/internal/llm"
	"github.com/kalambet/kbchat/internal/metrics"
	"github.com/kalambet/kbchat/internal/retrieval"
)

// Session is one user's conversation. It answers one question at a time.
type Session struct {
	id        string
	origin    string
	createdAt time.Time
	engine    *Engine

	transcript *Transcript

	mu      sync.Mutex
	busy    bool
	history []llm.Message
}

func (s *Session) ID() string              { return s.id }
func (s *Session) Origin() string          { return s.origin }
func (s *Session) CreatedAt() time.Time    { return s.createdAt }
func (s *Session) Transcript() *Transcript { return s.transcript }

// Busy reports whether an answer is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Ask appends question to the transcript and starts answering it. Follow-ups
// are first condensed into a standalone question using the prior turns.
// The returned Stream must be drained or closed; the answer is appended to
// the transcript only once the stream completes.
func (s *Session) Ask(ctx context.Context, question string) (*Stream, error) {
	e := s.engine

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		e.observe(metrics.StatusBusy, 0)
		return nil, ErrSessionBusy
	}
	s.busy = true
	history := slices.Clone(s.history)
	s.mu.Unlock()

	start := time.Now()
	e.record(s.id, s.transcript.append(llm.RoleUser, question))

	fail := func(stage string, err error) (*Stream, error) {
		s.release()
		e.observe(metrics.StatusError, time.Since(start))
		e.logger.Error("answer failed", "session", s.id, "stage", stage, "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrAnswer, stage, err)
	}

	standalone := question
	if len(history) > 0 {
		condensed, err := e.llm.Complete(ctx, e.request(e.composer.Condense(history, question)))
		if err != nil {
			return fail("condensing question", err)
		}
		if c := strings.TrimSpace(condensed); c != "" {
			standalone = c
		}
		e.logger.Debug("condensed question", "session", s.id, "question", standalone)
	}

	chunks, err := e.retriever.Retrieve(ctx, standalone, e.opts.TopK)
	if err != nil {
		return fail("retrieving context", err)
	}

	src, err := e.llm.Stream(ctx, e.request(e.composer.Answer(standalone, chunks)))
	if err != nil {
		return fail("opening stream", err)
	}

	return &Stream{
		session:  s,
		src:      src,
		question: question,
		sources:  chunks,
		start:    start,
	}, nil
}

// complete appends the final answer and records the turn.
func (s *Session) complete(question, answer string) {
	s.engine.record(s.id, s.transcript.append(llm.RoleAssistant, answer))

	s.mu.Lock()
	s.history = append(s.history,
		llm.Message{Role: llm.RoleUser, Content: question},
		llm.Message{Role: llm.RoleAssistant, Content: answer},
	)
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// Stream yields answer chunks as the LLM produces them. It is consumed once.
type Stream struct {
	session  *Session
	src      *llm.Stream
	question string
	sources  []retrieval.ContextChunk
	start    time.Time

	sb    strings.Builder
	done  bool
	err   error
	final string
}

// Next returns the next chunk. ok is false once the stream has completed or
// failed; check Err afterwards.
func (st *Stream) Next() (chunk string, ok bool) {
	if st.done {
		return "", false
	}
	delta, err := st.src.Recv()
	if err == nil {
		st.sb.WriteString(delta)
		return delta, true
	}

	st.done = true
	st.src.Close()
	e := st.session.engine
	if errors.Is(err, io.EOF) {
		st.final = st.sb.String()
		st.session.complete(st.question, st.final)
		e.observe(metrics.StatusOK, time.Since(st.start))
		return "", false
	}

	st.err = fmt.Errorf("%w: streaming: %w", ErrAnswer, err)
	st.session.release()
	e.observe(metrics.StatusError, time.Since(st.start))
	e.logger.Error("answer stream failed", "session", st.session.id, "error", err)
	return "", false
}

// Err returns the failure that ended the stream, if any.
func (st *Stream) Err() error {
	return st.err
}

// Text returns the consolidated answer. It is empty until the stream has
// completed successfully.
func (st *Stream) Text() string {
	return st.final
}

// Sources returns the passages the answer was grounded on.
func (st *Stream) Sources() []retrieval.ContextChunk {
	return st.sources
}

// Collect drains the stream and returns the final answer.
func (st *Stream) Collect() (string, error) {
	for {
		if _, ok := st.Next(); !ok {
			break
		}
	}
	return st.final, st.err
}

// Close abandons an unfinished stream. No answer is appended and the session
// is released. Close after completion is a no-op.
func (st *Stream) Close() error {
	if st.done {
		return nil
	}
	st.done = true
	st.err = fmt.Errorf("%w: stream closed before completion", ErrAnswer)
	st.session.release()
	st.session.engine.observe(metrics.StatusError, time.Since(st.start))
	return st.src.Close()
}
