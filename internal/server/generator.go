package server

import (
	"context"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragchat-go/internal/api"
)

// Prompt is everything a Generator receives for one answer.
type Prompt struct {
	// ConversationID is the id the answer is streamed under.
	ConversationID int64
	// User is the raw user prompt.
	User string
	// Documents are the retrieved passages, already sent to the client as
	// RAG_DOCUMENT events.
	Documents []api.VectorSearchResult
	// Messages is the model-ready conversation: the system message with the
	// retrieved context, remembered turns trimmed to the token budget, and
	// the user message last.
	Messages []*schema.Message
}

// Fragment is one piece of generated output. Exactly one field is set.
type Fragment struct {
	Thinking string
	Content  string
}

// Result is what a Generator reports once it has finished.
type Result struct {
	// Usage is the model-reported token usage, nil when the model did not
	// report it. The server estimates missing usage.
	Usage *schema.TokenUsage
}

// Generator produces the answer for a prompt, emitting fragments in order.
// An error returned by emit must abort generation and be returned.
type Generator interface {
	// Name is the model name reported in every event.
	Name() string
	Generate(ctx context.Context, p *Prompt, emit func(Fragment) error) (*Result, error)
}
