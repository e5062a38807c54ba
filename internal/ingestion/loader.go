// Package ingestion loads a directory of local text documents into the
// development backend's corpus. Each file becomes one document, split into
// overlapping passages.
package ingestion

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/54b3r/ragchat-go/internal/server"
)

// Config holds the configuration for the loader.
type Config struct {
	// ChunkSize is the maximum number of characters per passage.
	// Defaults to 1000 if zero.
	ChunkSize int

	// ChunkOverlap is the number of characters repeated between consecutive
	// passages. Defaults to 100 if zero.
	ChunkOverlap int

	// Extensions lists the file extensions to import, lowercase with the
	// leading dot. Defaults to .md, .markdown and .txt.
	Extensions []string

	// MaxFileSize skips files larger than this many bytes.
	// Defaults to 4 MiB if zero.
	MaxFileSize int64
}

// Loader walks a directory and turns its files into corpus documents.
type Loader struct {
	cfg Config
}

// NewLoader constructs a Loader, filling defaults into cfg.
func NewLoader(cfg Config) *Loader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1000
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = 100
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 10
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".md", ".markdown", ".txt"}
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 4 << 20
	}
	return &Loader{cfg: cfg}
}

// Load imports every matching file under root. Documents are numbered from
// firstID in path order, so repeated loads of an unchanged tree yield the
// same ids. Hidden files and directories are skipped. progress, when set,
// is called once per imported file.
func (l *Loader) Load(ctx context.Context, root string, firstID int64, progress func(path string, passages int)) ([]server.Document, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("ingestion: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("ingestion: %s is not a directory", root)
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !slices.Contains(l.cfg.Extensions, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ingestion: walk %s: %w", root, err)
	}
	slices.Sort(paths)

	docs := make([]server.Document, 0, len(paths))
	id := firstID
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, ok, err := l.loadFile(root, path)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		doc.ID = id
		id++
		docs = append(docs, doc)
		if progress != nil {
			progress(doc.SourceName, len(doc.Passages))
		}
	}
	return docs, nil
}

// loadFile reads one file. ok is false for files that are skipped: too
// large, empty or not valid text.
func (l *Loader) loadFile(root, path string) (server.Document, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return server.Document{}, false, fmt.Errorf("ingestion: %w", err)
	}
	if info.Size() > l.cfg.MaxFileSize {
		return server.Document{}, false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return server.Document{}, false, fmt.Errorf("ingestion: read %s: %w", path, err)
	}
	if slices.Contains(raw, 0) {
		return server.Document{}, false, nil
	}

	text := string(raw)
	chunks := Chunk(text, l.cfg.ChunkSize, l.cfg.ChunkOverlap)
	if len(chunks) == 0 {
		return server.Document{}, false, nil
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	rel = filepath.ToSlash(rel)

	passages := make([]server.Passage, len(chunks))
	for i, c := range chunks {
		passages[i] = server.Passage{Text: c}
	}
	return server.Document{
		SourceName: rel,
		Metadata:   InferMetadata(rel, text),
		CreatedAt:  info.ModTime().UTC().Truncate(time.Millisecond),
		Passages:   passages,
	}, true, nil
}

// InferMetadata derives document metadata from its slash-separated path
// relative to the import root and its content: the file extension, the
// top-level directory as category, and the first markdown heading as title.
func InferMetadata(rel, text string) map[string]any {
	meta := map[string]any{
		"extension": strings.TrimPrefix(strings.ToLower(filepath.Ext(rel)), "."),
		"path":      rel,
	}
	if dir, _, found := strings.Cut(rel, "/"); found {
		meta["category"] = dir
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if title, ok := strings.CutPrefix(line, "# "); ok {
			meta["title"] = strings.TrimSpace(title)
			break
		}
	}
	return meta
}

// Chunk splits text into passages of at most size characters where
// consecutive passages share overlap characters. Splits prefer a paragraph
// or line break, then a space, within the last quarter of a window.
func Chunk(text string, size, overlap int) []string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) == 0 || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		if end < len(runes) {
			end = breakPoint(runes, start, end, size/4)
		}
		if c := strings.TrimSpace(string(runes[start:end])); c != "" {
			chunks = append(chunks, c)
		}
		if end == len(runes) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakPoint moves end back to just after the last newline, or failing that
// the last space, found within window runes of end.
func breakPoint(runes []rune, start, end, window int) int {
	floor := max(start+1, end-window)
	for _, sep := range []rune{'\n', ' '} {
		for i := end - 1; i >= floor; i-- {
			if runes[i] == sep {
				return i + 1
			}
		}
	}
	return end
}
