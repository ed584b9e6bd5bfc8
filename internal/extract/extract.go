// Package extract turns fetched file payloads into plain text.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/kbchat/internal/source"
)

var (
	// ErrDecode is returned when a payload of a supported type cannot be decoded.
	ErrDecode = errors.New("decode failure")
	// ErrUnsupportedType is returned for content types with no extractor.
	ErrUnsupportedType = errors.New("unsupported content type")
)

// Extractor dispatches on the file's media type.
type Extractor struct {
	openPDF func(path string) (pdfDocument, error)
}

func New() *Extractor {
	return &Extractor{openPDF: openLedongthuc}
}

// Extract returns the text content of f. Media type parameters such as
// charset are ignored when selecting the decoder.
func (e *Extractor) Extract(ctx context.Context, f source.File) (string, error) {
	mt := MediaType(f.ContentType)
	switch {
	case mt == "application/pdf":
		return e.extractPDF(ctx, f)
	case IsTextLike(mt):
		return extractText(f)
	default:
		return "", fmt.Errorf("%w: %q (%s)", ErrUnsupportedType, f.ContentType, f.Name)
	}
}

// MediaType strips parameters and normalizes case: "Text/Plain; charset=utf-8"
// becomes "text/plain".
func MediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mt, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mt))
}

// IsTextLike reports whether mt is decoded verbatim as UTF-8 text.
func IsTextLike(mt string) bool {
	if strings.HasPrefix(mt, "text/") {
		return true
	}
	switch mt {
	case "application/json", "application/xml", "application/x-yaml", "application/yaml":
		return true
	}
	return false
}

// Supported reports whether the extractor handles contentType.
func Supported(contentType string) bool {
	mt := MediaType(contentType)
	return mt == "application/pdf" || IsTextLike(mt)
}

func extractText(f source.File) (string, error) {
	if !utf8.Valid(f.Data) {
		return "", fmt.Errorf("%w: %s is not valid UTF-8", ErrDecode, f.Name)
	}
	return string(f.Data), nil
}
