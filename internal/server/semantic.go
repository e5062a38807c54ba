package server

import (
	"context"
	"fmt"
	"maps"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/rag"
)

// Retriever finds passages for a query. When Config.Retriever is nil the
// corpus's lexical search is used.
type Retriever interface {
	Search(ctx context.Context, query string, n int, docIDs []int64) ([]api.VectorSearchResult, error)
}

// SemanticRetriever answers searches from embeddings of the corpus.
type SemanticRetriever struct {
	r *rag.Retriever
}

// IndexCorpus embeds every passage of c into r's store and returns a
// Retriever over it. progress, when set, receives the running count of
// indexed passages.
func IndexCorpus(ctx context.Context, r *rag.Retriever, c *Corpus, progress func(done int)) (*SemanticRetriever, error) {
	if r == nil {
		return nil, fmt.Errorf("server: retriever must not be nil")
	}
	if err := r.Index(ctx, corpusPassages(c), progress); err != nil {
		return nil, fmt.Errorf("server: index corpus: %w", err)
	}
	return &SemanticRetriever{r: r}, nil
}

// Search implements Retriever. Results carry the same metadata keys as the
// lexical search.
func (s *SemanticRetriever) Search(ctx context.Context, query string, n int, docIDs []int64) ([]api.VectorSearchResult, error) {
	hits, err := s.r.Search(ctx, query, n, docIDs)
	if err != nil {
		return nil, err
	}
	out := make([]api.VectorSearchResult, len(hits))
	for i, h := range hits {
		meta := map[string]any{
			"documentId": h.DocumentID,
			"sourceName": h.SourceName,
			"chunk":      h.Chunk,
		}
		for k, v := range h.Metadata {
			meta[k] = v
		}
		score := float64(h.Score)
		out[i] = api.VectorSearchResult{Text: h.Text, Metadata: meta, Score: &score}
	}
	return out, nil
}

// corpusPassages flattens c into rag passages. Passage metadata is merged
// over document metadata and rendered as strings.
func corpusPassages(c *Corpus) []rag.Passage {
	var out []rag.Passage
	for _, d := range c.docs {
		for i, p := range d.Passages {
			meta := make(map[string]any, len(d.Metadata)+len(p.Metadata))
			maps.Copy(meta, d.Metadata)
			maps.Copy(meta, p.Metadata)
			labels := make(map[string]string, len(meta))
			for k, v := range meta {
				labels[k] = fmt.Sprint(v)
			}
			out = append(out, rag.Passage{
				ID:         rag.PassageID(d.ID, i),
				DocumentID: d.ID,
				SourceName: d.SourceName,
				Chunk:      i,
				Text:       p.Text,
				Metadata:   labels,
			})
		}
	}
	return out
}

// search runs retrieval through the configured Retriever, or the corpus.
func (s *Server) search(ctx context.Context, query string, n int, docIDs []int64) ([]api.VectorSearchResult, error) {
	if n <= 0 {
		return nil, nil
	}
	if s.retriever != nil {
		docs, err := s.retriever.Search(ctx, query, n, docIDs)
		if err != nil {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
		return docs, nil
	}
	return s.corpus.Search(query, n, docIDs), nil
}
