package streamchat

import (
	"strings"
	"time"

	"github.com/54b3r/ragchat-go/internal/api"
)

// UnknownModel is the model name of a turn whose stream produced no events.
const UnknownModel = "TBD"

// TokenUsage holds the token counts reported by the META_DATA event.
// A nil count means the backend did not report it.
type TokenUsage struct {
	Completion *int `json:"completion,omitempty"`
	Prompt     *int `json:"prompt,omitempty"`
	Total      *int `json:"total,omitempty"`
}

// ConversationTurn is one finalized prompt/response exchange.
type ConversationTurn struct {
	// Prompt is the user input that started the turn.
	Prompt string
	// Response is every CONTENT output, concatenated in arrival order.
	Response string
	// Thinking is every THINKING output, concatenated in arrival order.
	Thinking string
	// VectorSearchResults holds every RAG_DOCUMENT payload in arrival order.
	VectorSearchResults []api.VectorSearchResult
	// Model comes from the first event, or UnknownModel.
	Model string
	// ConversationID comes from the first event that carries one. Zero when
	// the stream closed before any event arrived.
	ConversationID int64
	// RequestStartTime and RequestEndTime bracket the request.
	RequestStartTime time.Time
	RequestEndTime   time.Time
	// TokenUsage is nil unless a META_DATA event arrived.
	TokenUsage *TokenUsage
	// QueryRewrite is the rewritten retrieval query from META_DATA, if any.
	QueryRewrite string
}

// HasConversationID reports whether the backend assigned a conversation.
func (t *ConversationTurn) HasConversationID() bool { return t.ConversationID != 0 }

// Duration is the wall-clock time between request start and end.
func (t *ConversationTurn) Duration() time.Duration {
	return t.RequestEndTime.Sub(t.RequestStartTime)
}

// Assemble derives a ConversationTurn from the events of one stream.
func Assemble(prompt string, events []api.StreamEvent, start, end time.Time) *ConversationTurn {
	turn := &ConversationTurn{
		Prompt:           prompt,
		Model:            UnknownModel,
		RequestStartTime: start,
		RequestEndTime:   end,
	}
	if len(events) > 0 {
		turn.Model = events[0].Model
	}

	var response, thinking strings.Builder
	for i := range events {
		ev := &events[i]
		if turn.ConversationID == 0 && ev.ConversationID != 0 {
			turn.ConversationID = ev.ConversationID
		}
		switch ev.ItemType {
		case api.ItemContent:
			response.WriteString(ev.Output)
		case api.ItemThinking:
			thinking.WriteString(ev.Output)
		case api.ItemRAGDocument:
			if ev.VectorSearchResult != nil {
				turn.VectorSearchResults = append(turn.VectorSearchResults, *ev.VectorSearchResult)
			}
		case api.ItemMetaData:
			if turn.TokenUsage != nil {
				continue
			}
			turn.TokenUsage = &TokenUsage{
				Completion: ev.CompletionTokensUsed,
				Prompt:     ev.PromptTokensUsed,
				Total:      ev.TotalTokensUsed,
			}
			if ev.QueryRewrite != nil {
				turn.QueryRewrite = *ev.QueryRewrite
			}
		}
	}
	turn.Response = response.String()
	turn.Thinking = thinking.String()
	return turn
}

// IsThinking reports whether the model has produced reasoning but no visible
// answer yet: at least one THINKING event and no CONTENT events.
func IsThinking(events []api.StreamEvent) bool {
	thinking := false
	for i := range events {
		switch events[i].ItemType {
		case api.ItemContent:
			return false
		case api.ItemThinking:
			thinking = true
		}
	}
	return thinking
}
