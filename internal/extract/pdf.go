package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/kbchat/internal/source"
)

// pdfDocument is the page-level view of an opened PDF.
type pdfDocument interface {
	NumPage() int
	// PageText returns the plain text of page i, 1-indexed.
	PageText(i int) (string, error)
	Close() error
}

// extractPDF spools the payload to a temp file, since the parser needs a
// seekable file, and concatenates page text in ascending page order.
func (e *Extractor) extractPDF(ctx context.Context, f source.File) (text string, err error) {
	tmp, err := os.CreateTemp("", "kbchat-*.pdf")
	if err != nil {
		return "", fmt.Errorf("creating temp file for %s: %w", f.Name, err)
	}
	path := tmp.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			slog.Warn("could not remove temp file", "path", path, "error", rmErr)
		}
	}()

	if _, err := tmp.Write(f.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("writing temp file for %s: %w", f.Name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file for %s: %w", f.Name, err)
	}

	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %s: malformed pdf: %v", ErrDecode, f.Name, r)
		}
	}()

	doc, err := e.openPDF(path)
	if err != nil {
		return "", fmt.Errorf("%w: opening %s: %v", ErrDecode, f.Name, err)
	}
	defer doc.Close()

	var sb strings.Builder
	for i := 1; i <= doc.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		pt, err := doc.PageText(i)
		if err != nil {
			return "", fmt.Errorf("%w: %s page %d: %v", ErrDecode, f.Name, i, err)
		}
		sb.WriteString(pt)
	}
	return sb.String(), nil
}

type ledongthucDoc struct {
	file *os.File
	r    *pdf.Reader
}

func openLedongthuc(path string) (pdfDocument, error) {
	file, r, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	return &ledongthucDoc{file: file, r: r}, nil
}

func (d *ledongthucDoc) NumPage() int {
	return d.r.NumPage()
}

func (d *ledongthucDoc) PageText(i int) (string, error) {
	p := d.r.Page(i)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func (d *ledongthucDoc) Close() error {
	return d.file.Close()
}
