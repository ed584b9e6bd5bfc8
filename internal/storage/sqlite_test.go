package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_sessions_created_at", "idx_chunk_vectors_document"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

func TestChunkVectorsTableExists(t *testing.T) {
	s := openTestStore(t)

	_, err := s.DB().Exec(`INSERT INTO chunk_vectors (id, document_id, document_name, seq, text_chunk, embedding, created_at)
		VALUES ('d1:0', 'd1', 'a.txt', 0, 'hello world', X'00000000', '2025-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("INSERT into chunk_vectors: %v", err)
	}

	var name, text string
	err = s.DB().QueryRow(`SELECT document_name, text_chunk FROM chunk_vectors WHERE id = 'd1:0'`).Scan(&name, &text)
	if err != nil {
		t.Fatalf("SELECT from chunk_vectors: %v", err)
	}
	if name != "a.txt" || text != "hello world" {
		t.Errorf("round-trip mismatch: name=%q text=%q", name, text)
	}
}

func TestSaveAndGetSession(t *testing.T) {
	s := openTestStore(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	if err := s.SaveSession(Session{ID: "s1", CreatedAt: now, Origin: "http"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	// Saving again is a no-op.
	if err := s.SaveSession(Session{ID: "s1", CreatedAt: now.Add(time.Hour), Origin: "tui"}); err != nil {
		t.Fatalf("SaveSession (repeat): %v", err)
	}

	got, err := s.GetSession("s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if !got.CreatedAt.Equal(now) || got.Origin != "http" {
		t.Errorf("GetSession = %+v", got)
	}

	if _, err := s.GetSession("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) err = %v, want ErrNotFound", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		sess := Session{ID: fmt.Sprintf("s%d", i), CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveSession(sess); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	got, err := s.ListSessions(2)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(got) != 2 || got[0].ID != "s2" || got[1].ID != "s1" {
		t.Errorf("ListSessions = %+v", got)
	}
}

func TestAppendMessagesKeepOrder(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveSession(Session{ID: "s1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	turns := []Message{
		{SessionID: "s1", Role: "assistant", Content: "Ask me a question about the knowledge base"},
		{SessionID: "s1", Role: "user", Content: "What is kbchat?"},
		{SessionID: "s1", Role: "assistant", Content: "A chat front-end."},
	}
	for i, m := range turns {
		seq, err := s.AppendMessage(m)
		if err != nil {
			t.Fatalf("AppendMessage: %v", err)
		}
		if seq != i+1 {
			t.Errorf("seq = %d, want %d", seq, i+1)
		}
	}

	got, err := s.GetMessages("s1")
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(got) != len(turns) {
		t.Fatalf("got %d messages, want %d", len(got), len(turns))
	}
	for i := range turns {
		if got[i].Role != turns[i].Role || got[i].Content != turns[i].Content || got[i].Seq != i+1 {
			t.Errorf("message %d = %+v, want %+v", i, got[i], turns[i])
		}
	}
}

func TestAppendMessageUnknownSession(t *testing.T) {
	s := openTestStore(t)
	_, err := s.AppendMessage(Message{SessionID: "nope", Role: "user", Content: "hi"})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendMessageRejectsUnknownRole(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveSession(Session{ID: "s1"}); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if _, err := s.AppendMessage(Message{SessionID: "s1", Role: "system", Content: "x"}); err == nil {
		t.Error("expected CHECK constraint failure for role=system")
	}
}

func TestConcurrentAppendsAcrossSessions(t *testing.T) {
	s := openTestStore(t)
	for _, id := range []string{"a", "b"} {
		if err := s.SaveSession(Session{ID: id}); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				if _, err := s.AppendMessage(Message{SessionID: id, Role: "user", Content: fmt.Sprint(i)}); err != nil {
					t.Errorf("AppendMessage(%s): %v", id, err)
				}
			}
		}(id)
	}
	wg.Wait()

	for _, id := range []string{"a", "b"} {
		msgs, err := s.GetMessages(id)
		if err != nil {
			t.Fatalf("GetMessages: %v", err)
		}
		if len(msgs) != 10 {
			t.Errorf("session %s has %d messages, want 10", id, len(msgs))
		}
		for i, m := range msgs {
			if m.Content != fmt.Sprint(i) {
				t.Errorf("session %s message %d = %q", id, i, m.Content)
			}
		}
	}
}
