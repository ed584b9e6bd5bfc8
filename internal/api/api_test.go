package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/kalambet/kbchat/internal/chat"
	"github.com/kalambet/kbchat/internal/index"
	"github.com/kalambet/kbchat/internal/ingest"
	"github.com/kalambet/kbchat/internal/llm"
	"github.com/kalambet/kbchat/internal/metrics"
	"github.com/kalambet/kbchat/internal/retrieval"
)

var keywords = []string{"danube", "everest", "glacier"}

// fakeOpenAI mimics the embeddings and chat completion endpoints. Streaming
// completions echo the final prompt back, so answers contain exactly the
// retrieved context.
type fakeOpenAI struct {
	failChat  atomic.Bool
	streams   atomic.Int32
	condenses atomic.Int32
}

func embedKeywords(text string) []float32 {
	v := make([]float32, len(keywords)+1)
	lower := strings.ToLower(text)
	for i, kw := range keywords {
		if strings.Contains(lower, kw) {
			v[i] = 1
		}
	}
	v[len(keywords)] = 0.1
	return v
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/embeddings":
		var req struct {
			Input []string `json:"input"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i, in := range req.Input {
			data[i] = item{Index: i, Embedding: embedKeywords(in)}
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})

	case "/chat/completions":
		if f.failChat.Load() {
			http.Error(w, "upstream down", http.StatusInternalServerError)
			return
		}
		var req llm.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		last := req.Messages[len(req.Messages)-1].Content

		if !req.Stream {
			f.condenses.Add(1)
			json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": "Where does the Danube flow?"}}},
			})
			return
		}

		f.streams.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		half := len(last) / 2
		for _, part := range []string{last[:half], last[half:]} {
			b, _ := json.Marshal(map[string]any{"choices": []map[string]any{{"delta": map[string]string{"content": part}}}})
			fmt.Fprintf(w, "data: %s\n\n", b)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")

	default:
		http.NotFound(w, r)
	}
}

type testEnv struct {
	handler  http.Handler
	sessions *chat.Manager
	cache    *index.Cache
	upstream *fakeOpenAI
	metrics  *metrics.Metrics
}

func testDocs() []ingest.Document {
	return []ingest.Document{
		{ID: "d1", Name: "rivers.txt", ContentType: "text/plain", Text: "The Danube flows east into the Black Sea."},
		{ID: "d2", Name: "mountains.pdf", ContentType: "application/pdf", Text: "Everest is the tallest mountain. Glaciers carve valleys."},
	}
}

func newTestEnv(t *testing.T, token string, load index.LoadFunc) *testEnv {
	t.Helper()
	upstream := &fakeOpenAI{}
	srv := httptest.NewServer(upstream)
	t.Cleanup(srv.Close)

	client := llm.NewClient("test-key", srv.URL)
	m := metrics.New()

	if load == nil {
		store, err := retrieval.NewChromemStore()
		if err != nil {
			t.Fatalf("NewChromemStore: %v", err)
		}
		b := index.NewBuilder(
			retrieval.NewSentenceChunker(8, 1),
			retrieval.NewEmbedder(client, "text-embedding-3-small"),
			store,
			m,
		)
		load = func(ctx context.Context) (*index.Index, error) {
			return b.Build(ctx, testDocs())
		}
	}
	cache := index.NewCache(load)

	engine := chat.NewEngine(cache, client, chat.Options{
		Model:        "gpt-4o-mini",
		Temperature:  0.2,
		SystemPrompt: "You are an expert on the knowledge base.",
		TopK:         1,
		Observer:     m,
	})
	sessions := chat.NewManager(engine)

	return &testEnv{
		handler:  NewHandler(Deps{Index: cache, Sessions: sessions, Metrics: m, Token: token}),
		sessions: sessions,
		cache:    cache,
		upstream: upstream,
		metrics:  m,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body.Error.Type
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "secret", nil)

	rr := env.do(t, http.MethodGet, "/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var body healthResponse
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Status != "ok" || body.Index != "building" {
		t.Errorf("before build: %+v", body)
	}

	if _, err := env.cache.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	rr = env.do(t, http.MethodGet, "/health", "", "")
	json.NewDecoder(rr.Body).Decode(&body)
	if body.Index != "ready" || body.Documents != 2 {
		t.Errorf("after build: %+v", body)
	}
}

func TestChat_AnswerGroundedInIndexedDocument(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rr := env.do(t, http.MethodPost, "/chat", `{"question":"Where does the Danube flow?"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}

	var resp ChatResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if !strings.Contains(resp.Response, "The Danube flows east into the Black Sea.") {
		t.Errorf("answer not grounded in rivers.txt: %q", resp.Response)
	}
	if strings.Contains(resp.Response, "Everest") {
		t.Errorf("answer contains unrelated passage: %q", resp.Response)
	}
	if env.upstream.condenses.Load() != 0 {
		t.Error("a fresh session should not condense")
	}
	if n := len(env.sessions.List()); n != 0 {
		t.Errorf("stateless /chat left %d sessions behind", n)
	}
}

func TestChat_EmptyQuestion(t *testing.T) {
	env := newTestEnv(t, "", nil)
	for _, body := range []string{`{"question":""}`, `{"question":"   "}`, `not json`} {
		rr := env.do(t, http.MethodPost, "/chat", body, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, rr.Code)
		}
		if typ := errorType(t, rr); typ != "invalid_request_error" {
			t.Errorf("error type = %q", typ)
		}
	}
}

func TestChat_UnknownSession(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr := env.do(t, http.MethodPost, "/chat", `{"question":"hi","session_id":"nope"}`, "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestChat_ContinuesSession(t *testing.T) {
	env := newTestEnv(t, "", nil)
	sess := env.sessions.Create("test")

	body := fmt.Sprintf(`{"question":"Tell me about rivers","session_id":%q}`, sess.ID())
	if rr := env.do(t, http.MethodPost, "/chat", body, ""); rr.Code != http.StatusOK {
		t.Fatalf("first: status = %d", rr.Code)
	}
	body = fmt.Sprintf(`{"question":"Where does it flow?","session_id":%q}`, sess.ID())
	rr := env.do(t, http.MethodPost, "/chat", body, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("second: status = %d", rr.Code)
	}

	if env.upstream.condenses.Load() != 1 {
		t.Errorf("condense calls = %d, want 1", env.upstream.condenses.Load())
	}
	var resp ChatResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.SessionID != sess.ID() || !strings.Contains(resp.Response, "Danube flows east") {
		t.Errorf("resp = %+v", resp)
	}
	if n := sess.Transcript().Len(); n != 5 {
		t.Errorf("transcript length = %d, want 5", n)
	}
}

func TestChat_IndexUnavailable(t *testing.T) {
	env := newTestEnv(t, "", func(context.Context) (*index.Index, error) {
		return nil, errors.New("drive unreachable")
	})
	rr := env.do(t, http.MethodPost, "/chat", `{"question":"hi"}`, "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/documents", "", ""); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("/documents status = %d, want 503", rr.Code)
	}
}

func TestChat_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, "", nil)
	if _, err := env.cache.Get(context.Background()); err != nil {
		t.Fatalf("Get: %v", err)
	}
	env.upstream.failChat.Store(true)

	rr := env.do(t, http.MethodPost, "/chat", `{"question":"Where does the Danube flow?"}`, "")
	if rr.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", rr.Code)
	}
	if typ := errorType(t, rr); typ != "answer_error" {
		t.Errorf("error type = %q", typ)
	}
}

func TestChat_BusySession(t *testing.T) {
	env := newTestEnv(t, "", nil)
	sess := env.sessions.Create("test")

	st, err := sess.Ask(context.Background(), "Danube?")
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	defer st.Close()

	body := fmt.Sprintf(`{"question":"again","session_id":%q}`, sess.ID())
	rr := env.do(t, http.MethodPost, "/chat", body, "")
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestAuth(t *testing.T) {
	env := newTestEnv(t, "secret", nil)

	if rr := env.do(t, http.MethodPost, "/chat", `{"question":"hi"}`, ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/chat", `{"question":"hi"}`, "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d, want 401", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/chat", `{"question":"Danube?"}`, "secret"); rr.Code != http.StatusOK {
		t.Errorf("valid token: status = %d, want 200", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/health", "", ""); rr.Code != http.StatusOK {
		t.Errorf("/health must be public, got %d", rr.Code)
	}
	if rr := env.do(t, http.MethodGet, "/metrics", "", ""); rr.Code != http.StatusOK {
		t.Errorf("/metrics must be public, got %d", rr.Code)
	}
}

func TestDocuments(t *testing.T) {
	env := newTestEnv(t, "", nil)
	rr := env.do(t, http.MethodGet, "/documents", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	var body struct {
		Documents []index.DocumentInfo `json:"documents"`
		Stats     index.Stats          `json:"stats"`
	}
	json.NewDecoder(rr.Body).Decode(&body)
	if len(body.Documents) != 2 || body.Documents[0].Name != "rivers.txt" {
		t.Errorf("documents = %+v", body.Documents)
	}
	if body.Stats.Documents != 2 || body.Stats.Chunks == 0 {
		t.Errorf("stats = %+v", body.Stats)
	}
}

func TestSessions_StreamedAnswer(t *testing.T) {
	env := newTestEnv(t, "", nil)

	rr := env.do(t, http.MethodPost, "/sessions", "", "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", rr.Code)
	}
	var created sessionResponse
	json.NewDecoder(rr.Body).Decode(&created)
	if created.ID == "" || len(created.Messages) != 1 || created.Messages[0].Role != llm.RoleAssistant {
		t.Fatalf("created = %+v", created)
	}

	rr = env.do(t, http.MethodPost, "/sessions/"+created.ID+"/messages", `{"content":"Where does the Danube flow?"}`, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("post message: status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	var deltas []string
	var final streamEvent
	sc := bufio.NewScanner(rr.Body)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev streamEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("decoding event %q: %v", line, err)
		}
		if ev.Done {
			final = ev
		} else {
			deltas = append(deltas, ev.Delta)
		}
	}
	if len(deltas) != 2 {
		t.Errorf("got %d delta events, want 2", len(deltas))
	}
	if !final.Done || final.Content != strings.Join(deltas, "") {
		t.Errorf("final event = %+v", final)
	}

	rr = env.do(t, http.MethodGet, "/sessions/"+created.ID+"/messages", "", "")
	var got sessionResponse
	json.NewDecoder(rr.Body).Decode(&got)
	if len(got.Messages) != 3 || got.Messages[2].Content != final.Content || got.State != "idle" {
		t.Errorf("transcript = %+v", got)
	}
}

func TestSessions_NotFound(t *testing.T) {
	env := newTestEnv(t, "", nil)
	if rr := env.do(t, http.MethodGet, "/sessions/missing/messages", "", ""); rr.Code != http.StatusNotFound {
		t.Errorf("GET status = %d, want 404", rr.Code)
	}
	if rr := env.do(t, http.MethodPost, "/sessions/missing/messages", `{"content":"x"}`, ""); rr.Code != http.StatusNotFound {
		t.Errorf("POST status = %d, want 404", rr.Code)
	}
}

func TestMetricsRecordRequests(t *testing.T) {
	env := newTestEnv(t, "", nil)
	env.do(t, http.MethodPost, "/chat", `{"question":"Danube?"}`, "")

	rr := env.do(t, http.MethodGet, "/metrics", "", "")
	out := rr.Body.String()
	for _, want := range []string{
		`kbchat_http_requests_total{method="POST",route="/chat",status="200"} 1`,
		`kbchat_answers_total{status="ok"} 1`,
		`kbchat_index_chunks 2`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}
