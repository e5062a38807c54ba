package rag

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// passageNamespace seeds the deterministic passage UUIDs.
var passageNamespace = uuid.MustParse("6f6f0a8e-54b3-4c6a-9d1e-7261676368a1")

// PassageID returns the stable UUID of chunk of document docID.
func PassageID(docID int64, chunk int) string {
	return uuid.NewSHA1(passageNamespace, []byte(strconv.FormatInt(docID, 10)+"#"+strconv.Itoa(chunk))).String()
}

// Retriever combines an Embedder and a VectorStore: passages are embedded
// when indexed, queries when searched.
type Retriever struct {
	embedder  Embedder
	store     VectorStore
	batchSize int
}

// NewRetriever constructs a Retriever. batchSize bounds how many passages
// are embedded per request when indexing (default: 32).
func NewRetriever(embedder Embedder, store VectorStore, batchSize int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &Retriever{embedder: embedder, store: store, batchSize: batchSize}, nil
}

// Index embeds and stores passages in batches. progress, when non-nil, is
// called with the number of passages indexed so far.
func (r *Retriever) Index(ctx context.Context, passages []Passage, progress func(done int)) error {
	for start := 0; start < len(passages); start += r.batchSize {
		end := min(start+r.batchSize, len(passages))
		batch := passages[start:end]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}
		vectors, err := r.embedder.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("rag: embedding passages %d-%d failed: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("rag: embedder returned %d vectors for %d passages", len(vectors), len(batch))
		}
		if err := r.store.Upsert(ctx, batch, vectors); err != nil {
			return fmt.Errorf("rag: storing passages %d-%d failed: %w", start, end-1, err)
		}
		if progress != nil {
			progress(end)
		}
	}
	return nil
}

// Search embeds query and returns the topK closest passages.
func (r *Retriever) Search(ctx context.Context, query string, topK int, docIDs []int64) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	hits, err := r.store.Search(ctx, vectors[0], topK, docIDs)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return hits, nil
}
