package ingestion

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, root, rel, body string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoader_Load(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "runbooks/rotate-keys.md", "# Rotating keys\n\nRun the rotate job every quarter.")
	writeFile(t, root, "faq.txt", "Esc cancels a streaming answer.")
	writeFile(t, root, "image.png", "not text")
	writeFile(t, root, ".git/HEAD.md", "hidden")
	writeFile(t, root, "empty.md", "   \n")

	var seen []string
	docs, err := NewLoader(Config{}).Load(t.Context(), root, 10, func(path string, _ int) { seen = append(seen, path) })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("got %d documents, want 2: %+v", len(docs), docs)
	}

	faq, keys := docs[0], docs[1]
	if faq.ID != 10 || faq.SourceName != "faq.txt" || keys.ID != 11 || keys.SourceName != "runbooks/rotate-keys.md" {
		t.Errorf("ids/names: %d %q, %d %q", faq.ID, faq.SourceName, keys.ID, keys.SourceName)
	}
	if keys.Metadata["category"] != "runbooks" || keys.Metadata["title"] != "Rotating keys" || keys.Metadata["extension"] != "md" {
		t.Errorf("metadata: %v", keys.Metadata)
	}
	if _, ok := faq.Metadata["category"]; ok {
		t.Errorf("top-level file got a category: %v", faq.Metadata)
	}
	if len(keys.Passages) != 1 || !strings.Contains(keys.Passages[0].Text, "rotate job") {
		t.Errorf("passages: %+v", keys.Passages)
	}
	if strings.Join(seen, ",") != "faq.txt,runbooks/rotate-keys.md" {
		t.Errorf("progress: %v", seen)
	}
}

func TestLoader_RejectsFile(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "a.md", "x")
	if _, err := NewLoader(Config{}).Load(t.Context(), filepath.Join(root, "a.md"), 1, nil); err == nil {
		t.Error("expected an error for a non-directory root")
	}
	if _, err := NewLoader(Config{}).Load(t.Context(), filepath.Join(root, "missing"), 1, nil); err == nil {
		t.Error("expected an error for a missing root")
	}
}

func TestLoader_SkipsLargeAndBinaryFiles(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeFile(t, root, "big.md", strings.Repeat("word ", 100))
	writeFile(t, root, "bin.txt", "abc\x00def")
	writeFile(t, root, "ok.md", "fine")

	docs, err := NewLoader(Config{MaxFileSize: 64}).Load(t.Context(), root, 1, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(docs) != 1 || docs[0].SourceName != "ok.md" {
		t.Errorf("docs: %+v", docs)
	}
}

func TestChunk(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
		want    []string
	}{
		{name: "empty", text: "  ", size: 10, want: nil},
		{name: "fits", text: "short text", size: 20, want: []string{"short text"}},
		{name: "breaks at space", text: "alpha beta gamma delta", size: 12, overlap: 0, want: []string{"alpha beta", "gamma delta"}},
		{name: "prefers newline", text: "aaa bbbbb\nc dddd", size: 12, overlap: 0, want: []string{"aaa bbbbb", "c dddd"}},
		{name: "overlap repeats tail", text: "abcdefghij", size: 6, overlap: 2, want: []string{"abcdef", "efghij"}},
		{name: "multibyte runes", text: "ééééé", size: 2, overlap: 0, want: []string{"éé", "éé", "é"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Chunk(tt.text, tt.size, tt.overlap)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
				t.Errorf("Chunk(%q, %d, %d) = %q, want %q", tt.text, tt.size, tt.overlap, got, tt.want)
			}
		})
	}
}

func TestInferMetadata(t *testing.T) {
	t.Parallel()

	m := InferMetadata("guides/setup/INSTALL.MD", "intro\n## Section\n# Install guide \nbody")
	if m["category"] != "guides" || m["extension"] != "md" || m["title"] != "Install guide" || m["path"] != "guides/setup/INSTALL.MD" {
		t.Errorf("metadata: %v", m)
	}
}
