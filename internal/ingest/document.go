package ingest

import (
	"github.com/google/uuid"

	"github.com/kalambet/kbchat/internal/source"
)

// Document is one extracted corpus file. Immutable once built.
type Document struct {
	ID          string
	SourceID    string
	Name        string
	ContentType string
	Text        string
}

// NewDocument wraps extracted text with the file's identity. Empty text still
// yields a record.
func NewDocument(f source.File, text string) Document {
	return Document{
		ID:          uuid.New().String(),
		SourceID:    f.ID,
		Name:        f.Name,
		ContentType: f.ContentType,
		Text:        text,
	}
}
