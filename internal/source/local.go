package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
)

// Local reads every regular file under a directory tree.
type Local struct {
	root   string
	ignore []glob.Glob
}

// NewLocal returns a Local source rooted at root. Files whose slash-separated
// path relative to root matches any ignore pattern are skipped.
func NewLocal(root string, ignore []string) (*Local, error) {
	l := &Local{root: root}
	for _, p := range ignore {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", p, err)
		}
		l.ignore = append(l.ignore, g)
	}
	return l, nil
}

func (l *Local) Name() string {
	return "local:" + l.root
}

func (l *Local) List(ctx context.Context) ([]File, error) {
	var files []File
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if l.ignored(rel) {
			slog.Debug("local source: ignoring file", "path", rel)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files = append(files, File{
			ID:          rel,
			Name:        rel,
			ContentType: detectContentType(path, data),
			Data:        data,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: walking %s: %v", ErrSourceUnavailable, l.root, err)
	}
	return files, nil
}

func (l *Local) ignored(rel string) bool {
	for _, g := range l.ignore {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

// detectContentType prefers the extension mapping and falls back to sniffing
// the first 512 bytes.
func detectContentType(path string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
