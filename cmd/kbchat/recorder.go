package main

import (
	"time"

	"github.com/kalambet/kbchat/internal/chat"
	"github.com/kalambet/kbchat/internal/storage"
)

var _ chat.Recorder = storeRecorder{}

// storeRecorder persists chat transcripts to SQLite.
type storeRecorder struct {
	store *storage.Store
}

func (r storeRecorder) SessionStarted(id, origin string, at time.Time) error {
	return r.store.SaveSession(storage.Session{ID: id, CreatedAt: at, Origin: origin})
}

func (r storeRecorder) MessageAppended(sessionID string, m chat.Message) error {
	_, err := r.store.AppendMessage(storage.Message{
		SessionID: sessionID,
		Role:      m.Role,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	})
	return err
}
