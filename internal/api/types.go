// Package api defines the wire types and HTTP client for the chat backend's
// REST and SSE endpoints. The streaming accumulator in package streamchat
// builds on [Client.OpenStream]; everything else here is plain
// request/response.
package api

import (
	"encoding/json"
	"fmt"
	"time"
)

// ItemType discriminates the payload carried by a [StreamEvent].
type ItemType string

const (
	// ItemContent carries a fragment of the visible answer in Output.
	ItemContent ItemType = "CONTENT"
	// ItemRAGDocument carries one retrieved document in VectorSearchResult.
	ItemRAGDocument ItemType = "RAG_DOCUMENT"
	// ItemThinking carries a fragment of the model's reasoning in Output.
	ItemThinking ItemType = "THINKING"
	// ItemMetaData carries token usage and the rewritten retrieval query.
	ItemMetaData ItemType = "META_DATA"
)

// ItemTypes lists every valid ItemType in declaration order.
var ItemTypes = []ItemType{ItemContent, ItemRAGDocument, ItemThinking, ItemMetaData}

// Valid reports whether t is one of the four known item types.
func (t ItemType) Valid() bool {
	switch t {
	case ItemContent, ItemRAGDocument, ItemThinking, ItemMetaData:
		return true
	default:
		return false
	}
}

// UnmarshalJSON rejects unknown tags so an invalid item type never reaches
// the accumulator.
func (t *ItemType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("api: itemType: %w", err)
	}
	v := ItemType(s)
	if !v.Valid() {
		return fmt.Errorf("api: unknown itemType %q", s)
	}
	*t = v
	return nil
}

// StreamEvent is one record decoded from a `data:` line of the chat stream.
type StreamEvent struct {
	// Model is the identifier of the generating model.
	Model string `json:"model"`
	// ConversationID identifies the owning conversation. Zero means unknown.
	ConversationID int64 `json:"conversationId"`
	// ItemType tags the meaning of the remaining fields.
	ItemType ItemType `json:"itemType"`
	// Output is the text fragment for CONTENT and THINKING events.
	Output string `json:"output,omitempty"`
	// VectorSearchResult is set on RAG_DOCUMENT events.
	VectorSearchResult *VectorSearchResult `json:"vectorSearchResult,omitempty"`
	// TotalTokensUsed is set on META_DATA events.
	TotalTokensUsed *int `json:"totalTokensUsed,omitempty"`
	// CompletionTokensUsed is set on META_DATA events.
	CompletionTokensUsed *int `json:"completionTokensUsed,omitempty"`
	// PromptTokensUsed is set on META_DATA events.
	PromptTokensUsed *int `json:"promptTokensUsed,omitempty"`
	// QueryRewrite is the rewritten retrieval query, set on META_DATA events.
	QueryRewrite *string `json:"queryRewrite,omitempty"`
}

// VectorSearchResult is a retrieved document chunk and its relevance score.
type VectorSearchResult struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// Score is nil when the backend did not compute one.
	Score *float64 `json:"score"`
}

// ChatRequest is the JSON body for both chat endpoints.
type ChatRequest struct {
	SystemPrompt                  string  `json:"systemPrompt,omitempty"`
	UserPrompt                    string  `json:"userPrompt"`
	ConversationID                *int64  `json:"conversationId,omitempty"`
	NumberOfRagDocumentsToInclude *int    `json:"numberOfRagDocumentsToInclude,omitempty"`
	DocumentSourceIDs             []int64 `json:"documentSourceIds"`
}

// ChatResponse is the body returned by POST /api/v1/chat/generic.
type ChatResponse struct {
	Prompt              string               `json:"prompt"`
	Response            string               `json:"response"`
	Thinking            string               `json:"thinking,omitempty"`
	VectorSearchResults []VectorSearchResult `json:"vectorSearchResults"`
	Model               string               `json:"model"`
	ConversationID      int64                `json:"conversationId"`
	RequestStartTime    time.Time            `json:"requestTimeStartTime"`
	RequestEndTime      time.Time            `json:"requestEndTime"`
}

// VectorSearchRequest is the JSON body for POST /api/v1/rag/vectors/search.
type VectorSearchRequest struct {
	Query             string  `json:"query"`
	NumMatches        int     `json:"numMatches"`
	DocumentSourceIDs []int64 `json:"documentSourceIds"`
}

// VectorSearchResponse is the body returned by the vector search endpoint.
type VectorSearchResponse struct {
	// RewrittenQuery is empty unless query rewriting was requested.
	RewrittenQuery string               `json:"rewrittenQuery"`
	SearchResults  []VectorSearchResult `json:"searchResults"`
}

// DocumentImport describes one document imported into the backend's store.
type DocumentImport struct {
	ID                int64  `json:"id"`
	SourceName        string `json:"sourceName"`
	NonChunkedContent string `json:"nonChunkedContent"`
	Metadata          string `json:"metadata"`
	// CreatedAt and UpdatedAt are epoch milliseconds.
	CreatedAt int64 `json:"createdAt"`
	UpdatedAt int64 `json:"updatedAt"`
}
