package streamchat

import (
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/54b3r/ragchat-go/internal/api"
)

func intPtr(n int) *int { return &n }

func TestAssemble_NoEvents(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0)
	end := start.Add(time.Second)
	turn := Assemble("hi", nil, start, end)

	if turn.Model != UnknownModel {
		t.Errorf("want model %q, got %q", UnknownModel, turn.Model)
	}
	if turn.HasConversationID() {
		t.Errorf("want no conversation id, got %d", turn.ConversationID)
	}
	if turn.Response != "" || turn.Thinking != "" || turn.TokenUsage != nil {
		t.Errorf("want empty turn, got %+v", turn)
	}
	if turn.Prompt != "hi" || turn.Duration() != time.Second {
		t.Errorf("unexpected prompt/duration: %q %v", turn.Prompt, turn.Duration())
	}
}

func TestAssemble_Fields(t *testing.T) {
	t.Parallel()

	rewrite := "rewritten"
	score := 0.5
	events := []api.StreamEvent{
		{Model: "m1", ItemType: api.ItemThinking, Output: "let me "},
		{Model: "m1", ConversationID: 42, ItemType: api.ItemRAGDocument,
			VectorSearchResult: &api.VectorSearchResult{Text: "chunk", Score: &score}},
		{Model: "m1", ConversationID: 42, ItemType: api.ItemRAGDocument},
		{Model: "m1", ConversationID: 42, ItemType: api.ItemThinking, Output: "think"},
		{Model: "m1", ConversationID: 42, ItemType: api.ItemContent, Output: "Hi"},
		{Model: "m1", ConversationID: 42, ItemType: api.ItemContent, Output: " there"},
		{Model: "m1", ConversationID: 42, ItemType: api.ItemMetaData,
			TotalTokensUsed: intPtr(10), PromptTokensUsed: intPtr(6), CompletionTokensUsed: intPtr(4),
			QueryRewrite: &rewrite},
		{Model: "m1", ConversationID: 42, ItemType: api.ItemMetaData, TotalTokensUsed: intPtr(99)},
	}

	turn := Assemble("q", events, time.Time{}, time.Time{})

	if turn.Response != "Hi there" {
		t.Errorf("want response %q, got %q", "Hi there", turn.Response)
	}
	if turn.Thinking != "let me think" {
		t.Errorf("want thinking %q, got %q", "let me think", turn.Thinking)
	}
	if turn.Model != "m1" || turn.ConversationID != 42 {
		t.Errorf("want m1/42, got %s/%d", turn.Model, turn.ConversationID)
	}
	if len(turn.VectorSearchResults) != 1 || turn.VectorSearchResults[0].Text != "chunk" {
		t.Errorf("want one vector search result, got %+v", turn.VectorSearchResults)
	}
	if turn.TokenUsage == nil || *turn.TokenUsage.Total != 10 || *turn.TokenUsage.Prompt != 6 || *turn.TokenUsage.Completion != 4 {
		t.Errorf("want token usage from first META_DATA, got %+v", turn.TokenUsage)
	}
	if turn.QueryRewrite != rewrite {
		t.Errorf("want query rewrite %q, got %q", rewrite, turn.QueryRewrite)
	}
}

// TestAssemble_Concatenation checks ordered concatenation over random
// interleavings of content and thinking events.
func TestAssemble_Concatenation(t *testing.T) {
	t.Parallel()

	r := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		var events []api.StreamEvent
		var wantResp, wantThink strings.Builder
		for i := range r.IntN(20) {
			out := string(rune('a' + i%26))
			if r.IntN(2) == 0 {
				events = append(events, api.StreamEvent{ItemType: api.ItemContent, Output: out})
				wantResp.WriteString(out)
			} else {
				events = append(events, api.StreamEvent{ItemType: api.ItemThinking, Output: out})
				wantThink.WriteString(out)
			}
		}
		turn := Assemble("p", events, time.Time{}, time.Time{})
		if turn.Response != wantResp.String() || turn.Thinking != wantThink.String() {
			t.Fatalf("want %q/%q, got %q/%q", wantResp.String(), wantThink.String(), turn.Response, turn.Thinking)
		}
	}
}

// TestIsThinking_Window checks the classification after every prefix of
// random event sequences: true only between the first THINKING and the
// first CONTENT.
func TestIsThinking_Window(t *testing.T) {
	t.Parallel()

	kinds := []api.ItemType{api.ItemContent, api.ItemThinking, api.ItemRAGDocument, api.ItemMetaData}
	r := rand.New(rand.NewPCG(3, 4))
	for range 200 {
		events := make([]api.StreamEvent, r.IntN(12))
		for i := range events {
			events[i].ItemType = kinds[r.IntN(len(kinds))]
		}

		sawThinking, sawContent := false, false
		for i := 0; i <= len(events); i++ {
			if i > 0 {
				switch events[i-1].ItemType {
				case api.ItemThinking:
					sawThinking = true
				case api.ItemContent:
					sawContent = true
				}
			}
			want := sawThinking && !sawContent
			if got := IsThinking(events[:i]); got != want {
				t.Fatalf("prefix %v: want %v, got %v", itemTypes(events[:i]), want, got)
			}
		}
	}
}
