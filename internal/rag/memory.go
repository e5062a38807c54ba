package rag

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
)

// MemoryStore is a brute-force in-process VectorStore. It suits the few
// hundred passages of a development corpus.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	passage Passage
	vector  []float32
	norm    float64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

// Upsert implements VectorStore.
func (s *MemoryStore) Upsert(_ context.Context, passages []Passage, vectors [][]float32) error {
	if len(passages) != len(vectors) {
		return fmt.Errorf("rag: upsert: %d passages but %d vectors", len(passages), len(vectors))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, p := range passages {
		v := slices.Clone(vectors[i])
		s.entries[p.ID] = memoryEntry{passage: p, vector: v, norm: norm(v)}
	}
	return nil
}

// Search implements VectorStore. Ties keep passage order by document and
// chunk so results are deterministic.
func (s *MemoryStore) Search(_ context.Context, query []float32, topK int, docIDs []int64) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	qn := norm(query)

	s.mu.RLock()
	hits := make([]Hit, 0, len(s.entries))
	for _, e := range s.entries {
		if len(docIDs) > 0 && !slices.Contains(docIDs, e.passage.DocumentID) {
			continue
		}
		if len(e.vector) != len(query) {
			s.mu.RUnlock()
			return nil, fmt.Errorf("rag: search: query has %d dimensions, passage %s has %d", len(query), e.passage.ID, len(e.vector))
		}
		hits = append(hits, Hit{Passage: e.passage, Score: cosine(query, e.vector, qn, e.norm)})
	}
	s.mu.RUnlock()

	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DocumentID, b.DocumentID); c != 0 {
			return c
		}
		return cmp.Compare(a.Chunk, b.Chunk)
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// Len reports the number of stored passages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close implements VectorStore.
func (s *MemoryStore) Close() error { return nil }

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a, b []float32, na, nb float64) float32 {
	if na == 0 || nb == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot / (na * nb))
}
