// Package api exposes the chat engine over HTTP and MCP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/kbchat/internal/chat"
	"github.com/kalambet/kbchat/internal/index"
	"github.com/kalambet/kbchat/internal/metrics"
)

const maxRequestBodySize = 1 << 20 // 1MB

// IndexSource provides the shared index.
type IndexSource interface {
	Get(ctx context.Context) (*index.Index, error)
	Ready() *index.Index
}

// Deps holds dependencies for the HTTP handler.
type Deps struct {
	Index    IndexSource
	Sessions *chat.Manager
	Metrics  *metrics.Metrics // optional
	Token    string           // optional; empty disables auth
}

// NewHandler returns the HTTP API. /health and /metrics are always public;
// every other route requires the bearer token when one is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(deps.Metrics.Middleware)

	r.Get("/health", handleHealth(deps))
	r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/documents", handleDocuments(deps))
		r.Post("/chat", handleChat(deps))
		r.Post("/sessions", handleCreateSession(deps))
		r.Get("/sessions/{id}/messages", handleGetMessages(deps))
		r.Post("/sessions/{id}/messages", handlePostMessage(deps))
	})

	return r
}

type healthResponse struct {
	Status    string `json:"status"`
	Index     string `json:"index"`
	Documents int    `json:"documents"`
	Chunks    int    `json:"chunks"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok", Index: "building"}
		if idx := deps.Index.Ready(); idx != nil {
			st := idx.Stats()
			resp.Index = "ready"
			resp.Documents = st.Documents
			resp.Chunks = st.Chunks
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idx, err := deps.Index.Get(r.Context())
		if err != nil {
			httpError(w, http.StatusServiceUnavailable, "index_unavailable", "index unavailable: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"documents": idx.Documents(),
			"stats":     idx.Stats(),
		})
	}
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
}

// ChatResponse is the reply of POST /chat.
type ChatResponse struct {
	Response  string `json:"response"`
	SessionID string `json:"session_id,omitempty"`
}

// handleChat answers synchronously. Without a session_id the question runs in
// a throwaway session, so the call is stateless.
func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Question) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}

		if _, err := deps.Index.Get(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "index_unavailable", "index unavailable: %v", err)
			return
		}

		var sess *chat.Session
		if req.SessionID != "" {
			s, err := deps.Sessions.Get(req.SessionID)
			if err != nil {
				httpError(w, http.StatusNotFound, "not_found", "session not found")
				return
			}
			sess = s
		} else {
			sess = deps.Sessions.Create("http")
			defer deps.Sessions.Remove(sess.ID())
		}

		st, err := sess.Ask(r.Context(), req.Question)
		if err != nil {
			writeAskError(w, err)
			return
		}
		answer, err := st.Collect()
		if err != nil {
			writeAskError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, ChatResponse{Response: answer, SessionID: req.SessionID})
	}
}

type sessionResponse struct {
	ID       string         `json:"id"`
	State    string         `json:"state"`
	Messages []chat.Message `json:"messages"`
}

func newSessionResponse(s *chat.Session) sessionResponse {
	return sessionResponse{
		ID:       s.ID(),
		State:    s.Transcript().State().String(),
		Messages: s.Transcript().Messages(),
	}
}

func handleCreateSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := deps.Sessions.Create("http")
		writeJSON(w, http.StatusCreated, newSessionResponse(s))
	}
}

func handleGetMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(s))
	}
}

type postMessageRequest struct {
	Content string `json:"content"`
}

type streamEvent struct {
	Delta   string `json:"delta,omitempty"`
	Done    bool   `json:"done,omitempty"`
	Content string `json:"content,omitempty"`
}

// handlePostMessage asks within a session and streams the answer as
// server-sent events: one delta per chunk, then a final done event carrying
// the consolidated answer.
func handlePostMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := deps.Sessions.Get(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req postMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			httpError(w, http.StatusInternalServerError, "api_error", "streaming not supported")
			return
		}

		st, err := s.Ask(r.Context(), req.Content)
		if err != nil {
			writeAskError(w, err)
			return
		}
		defer st.Close()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)

		for {
			chunk, ok := st.Next()
			if !ok {
				break
			}
			writeEvent(w, streamEvent{Delta: chunk})
			flusher.Flush()
		}

		if err := st.Err(); err != nil {
			slog.Warn("answer stream ended with error", "session", s.ID(), "error", err)
			writeEvent(w, map[string]any{
				"error": map[string]any{
					"message": err.Error(),
					"type":    "answer_error",
				},
			})
		} else {
			writeEvent(w, streamEvent{Done: true, Content: st.Text()})
		}
		flusher.Flush()
	}
}

func writeEvent(w http.ResponseWriter, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Error("marshaling stream event", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
}

func writeAskError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chat.ErrSessionBusy):
		httpError(w, http.StatusConflict, "session_busy", "session is already answering a question")
	case errors.Is(err, context.Canceled):
		httpError(w, http.StatusServiceUnavailable, "api_error", "request cancelled")
	default:
		httpError(w, http.StatusBadGateway, "answer_error", "answer failed: %v", err)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
