package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Session is a persisted chat session header.
type Session struct {
	ID        string
	CreatedAt time.Time
	Origin    string // "tui", "http", "mcp"
}

// Message is one transcript entry. Seq is assigned on append, starting at 1.
type Message struct {
	SessionID string
	Seq       int
	Role      string
	Content   string
	CreatedAt time.Time
}
