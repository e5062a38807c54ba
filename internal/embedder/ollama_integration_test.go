//go:build integration

package embedder

import (
	"context"
	"testing"
	"time"

	"github.com/54b3r/ragchat-go/internal/rag"
	"github.com/54b3r/ragchat-go/internal/server"
)

// TestOllamaEmbedder_RanksFixtureCorpus embeds the built-in serve fixture
// with a local Ollama model and checks that semantic search finds the
// passage a user question is about.
//
//	ollama pull nomic-embed-text
//	go test -tags=integration -run Ollama ./internal/embedder/
func TestOllamaEmbedder_RanksFixtureCorpus(t *testing.T) {
	cfg := ConfigFromEnv("ollama")
	emb, err := New(t.Context(), cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	fx, err := server.LoadFixture("")
	if err != nil {
		t.Fatalf("LoadFixture: %v", err)
	}
	corpus := server.NewCorpus(fx.Documents)

	ctx, cancel := context.WithTimeout(t.Context(), 2*time.Minute)
	defer cancel()

	r, err := rag.NewRetriever(emb, rag.NewMemoryStore(), 0)
	if err != nil {
		t.Fatalf("NewRetriever: %v", err)
	}
	sr, err := server.IndexCorpus(ctx, r, corpus, nil)
	if err != nil {
		t.Fatalf("IndexCorpus: %v\n\nEnsure Ollama is running and %q is pulled.", err, cfg.Model)
	}

	cases := []struct {
		query  string
		docIDs []int64
		source string
	}{
		{"how do I stop an answer while it is streaming?", nil, "getting-started.md"},
		{"which event reports token usage?", nil, "backend-api.md"},
		{"where are prometheus metrics exposed?", nil, "operations.md"},
		{"how do I stop an answer while it is streaming?", []int64{2}, "backend-api.md"},
	}
	for _, tc := range cases {
		hits, err := sr.Search(ctx, tc.query, 3, tc.docIDs)
		if err != nil {
			t.Fatalf("Search(%q): %v", tc.query, err)
		}
		if len(hits) == 0 {
			t.Fatalf("Search(%q): no hits", tc.query)
		}
		if got := hits[0].Metadata["sourceName"]; got != tc.source {
			t.Errorf("Search(%q, docs %v): top source %v, want %s (text %q)", tc.query, tc.docIDs, got, tc.source, hits[0].Text)
		}
		if len(tc.docIDs) > 0 {
			for _, h := range hits {
				if h.Metadata["documentId"] != tc.docIDs[0] {
					t.Errorf("Search(%q): hit outside filter: %v", tc.query, h.Metadata)
				}
			}
		}
		t.Logf("%q -> %v score=%.3f", tc.query, hits[0].Metadata["sourceName"], *hits[0].Score)
	}
}
