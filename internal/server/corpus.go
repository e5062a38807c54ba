package server

import (
	"cmp"
	"encoding/json"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/54b3r/ragchat-go/internal/api"
)

// Document is one imported source and the passages it was split into.
type Document struct {
	ID         int64          `yaml:"id"`
	SourceName string         `yaml:"sourceName"`
	Metadata   map[string]any `yaml:"metadata"`
	CreatedAt  time.Time      `yaml:"createdAt"`
	Passages   []Passage      `yaml:"passages"`
}

// Passage is one retrievable chunk of a document.
type Passage struct {
	Text     string         `yaml:"text"`
	Metadata map[string]any `yaml:"metadata"`
}

// Corpus is the development backend's document store. Retrieval is a
// lexical term-overlap score; it stands in for the vector search of a real
// deployment. A Corpus is immutable and safe for concurrent use.
type Corpus struct {
	docs []Document
}

// NewCorpus returns a Corpus over docs.
func NewCorpus(docs []Document) *Corpus {
	return &Corpus{docs: slices.Clone(docs)}
}

// Documents lists every document in the shape of the backend's import list.
func (c *Corpus) Documents() []api.DocumentImport {
	out := make([]api.DocumentImport, 0, len(c.docs))
	for _, d := range c.docs {
		texts := make([]string, len(d.Passages))
		for i, p := range d.Passages {
			texts[i] = p.Text
		}
		meta := "{}"
		if len(d.Metadata) > 0 {
			if b, err := json.Marshal(d.Metadata); err == nil {
				meta = string(b)
			}
		}
		out = append(out, api.DocumentImport{
			ID:                d.ID,
			SourceName:        d.SourceName,
			NonChunkedContent: strings.Join(texts, "\n\n"),
			Metadata:          meta,
			CreatedAt:         d.CreatedAt.UnixMilli(),
			UpdatedAt:         d.CreatedAt.UnixMilli(),
		})
	}
	return out
}

// Search returns up to n passages sharing at least one term with query,
// best first. A non-empty docIDs restricts the search to those documents.
func (c *Corpus) Search(query string, n int, docIDs []int64) []api.VectorSearchResult {
	if c == nil || n <= 0 {
		return nil
	}
	terms := termSet(query)
	if len(terms) == 0 {
		return nil
	}

	type hit struct {
		score float64
		res   api.VectorSearchResult
	}
	var hits []hit
	for _, d := range c.docs {
		if len(docIDs) > 0 && !slices.Contains(docIDs, d.ID) {
			continue
		}
		for i, p := range d.Passages {
			matched := 0
			for t := range termSet(p.Text) {
				if terms[t] {
					matched++
				}
			}
			if matched == 0 {
				continue
			}
			score := float64(matched) / float64(len(terms))
			meta := map[string]any{
				"documentId": d.ID,
				"sourceName": d.SourceName,
				"chunk":      i,
			}
			for k, v := range p.Metadata {
				meta[k] = v
			}
			hits = append(hits, hit{score: score, res: api.VectorSearchResult{Text: p.Text, Metadata: meta, Score: &score}})
		}
	}

	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(b.score, a.score) })
	if len(hits) > n {
		hits = hits[:n]
	}
	out := make([]api.VectorSearchResult, len(hits))
	for i := range hits {
		out[i] = hits[i].res
	}
	return out
}

// Rewrite normalises a question into a retrieval query: lowercased, stop
// words and punctuation removed.
func (c *Corpus) Rewrite(query string) string {
	var kept []string
	for _, w := range words(query) {
		if !stopWords[w] {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}

// words splits s into lowercase alphanumeric words.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termSet is the set of non-stop words of s.
func termSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range words(s) {
		if !stopWords[w] {
			set[w] = true
		}
	}
	return set
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "can": true, "do": true, "does": true, "for": true, "from": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "me": true, "my": true, "of": true,
	"on": true, "or": true, "please": true, "tell": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "what": true, "when": true, "where": true,
	"which": true, "who": true, "why": true, "with": true, "you": true, "your": true,
}
