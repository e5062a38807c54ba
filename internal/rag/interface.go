// Package rag provides semantic retrieval for the development backend:
// passages are embedded once at startup and searched by cosine similarity,
// either in memory or in a Qdrant collection.
package rag

import (
	"context"
)

// Passage is one retrievable chunk of an imported document.
type Passage struct {
	// ID is a UUID, stable across restarts for the same document chunk.
	ID string
	// DocumentID is the import id of the owning document.
	DocumentID int64
	// SourceName is the owning document's file name.
	SourceName string
	// Chunk is the passage's position within its document.
	Chunk int
	// Text is the passage content.
	Text string
	// Metadata holds string-valued labels (category, section, ...).
	Metadata map[string]string
}

// Hit is a passage returned by a search, with its similarity score.
type Hit struct {
	Passage
	// Score is the cosine similarity to the query, higher is closer.
	Score float32
}

// VectorStore persists passages with their embeddings and searches them.
// Implementations must be safe for concurrent use.
type VectorStore interface {
	// Upsert stores or replaces passages. vectors[i] belongs to passages[i].
	Upsert(ctx context.Context, passages []Passage, vectors [][]float32) error

	// Search returns the topK passages closest to query. A non-empty docIDs
	// restricts the search to passages of those documents.
	Search(ctx context.Context, query []float32, topK int, docIDs []int64) ([]Hit, error)

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts text into dense vectors. The returned slice is parallel
// to texts. Implementations must be safe for concurrent use.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
