package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/streamchat"
)

// openTestStore opens an in-memory Store for use in tests.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func turn(conv int64, prompt, response string) *streamchat.ConversationTurn {
	start := time.UnixMilli(1_700_000_000_000)
	return &streamchat.ConversationTurn{
		Prompt:           prompt,
		Response:         response,
		Model:            "llama3",
		ConversationID:   conv,
		RequestStartTime: start,
		RequestEndTime:   start.Add(1500 * time.Millisecond),
	}
}

func Test_Store_AppendAndRecentRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := t.Context()

	score := 0.75
	total, prompt := 30, 20
	in := turn(1, "what is in the report?", "a summary")
	in.Thinking = "reading"
	in.QueryRewrite = "report contents"
	in.VectorSearchResults = []api.VectorSearchResult{
		{Text: "chunk", Metadata: map[string]any{"source": "report.pdf"}, Score: &score},
		{Text: "unscored"},
	}
	in.TokenUsage = &streamchat.TokenUsage{Total: &total, Prompt: &prompt}

	id, err := s.AppendRecord(ctx, in)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := uuid.Parse(id); err != nil {
		t.Errorf("want uuid id, got %q: %v", id, err)
	}

	recs, err := s.Recent(ctx, 1, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("want 1 record, got %d", len(recs))
	}
	got := recs[0]
	if got.ID != id || got.Prompt != in.Prompt || got.Response != in.Response || got.Thinking != "reading" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.QueryRewrite != "report contents" || got.Model != "llama3" {
		t.Errorf("unexpected metadata: %+v", got)
	}
	if len(got.VectorSearchResults) != 2 || *got.VectorSearchResults[0].Score != 0.75 || got.VectorSearchResults[1].Score != nil {
		t.Errorf("unexpected rag documents: %+v", got.VectorSearchResults)
	}
	if got.TokenUsage == nil || *got.TokenUsage.Total != 30 || got.TokenUsage.Completion != nil {
		t.Errorf("unexpected token usage: %+v", got.TokenUsage)
	}
	if got.Duration() != 1500*time.Millisecond {
		t.Errorf("want 1.5s duration, got %v", got.Duration())
	}
}

func Test_Store_NoTokenUsageStaysNil(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	if err := s.Append(t.Context(), turn(2, "q", "a")); err != nil {
		t.Fatalf("append: %v", err)
	}
	recs, err := s.Recent(t.Context(), 2, 1)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if recs[0].TokenUsage != nil || recs[0].VectorSearchResults != nil {
		t.Errorf("want nil usage and documents, got %+v", recs[0])
	}
}

func Test_Store_RecentLimitAndOrdering(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := t.Context()

	for _, p := range []string{"first", "second", "third", "fourth"} {
		if err := s.Append(ctx, turn(3, p, "r")); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recs, err := s.Recent(ctx, 3, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 2 || recs[0].Prompt != "third" || recs[1].Prompt != "fourth" {
		t.Errorf("want [third fourth], got %+v", recs)
	}
}

func Test_Store_ConversationIsolation(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := t.Context()

	for _, tr := range []*streamchat.ConversationTurn{turn(10, "x1", ""), turn(11, "y1", ""), turn(10, "x2", "")} {
		if err := s.Append(ctx, tr); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	x, err := s.Recent(ctx, 10, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(x) != 2 || x[0].Prompt != "x1" || x[1].Prompt != "x2" {
		t.Errorf("conversation 10: got %+v", x)
	}

	all, err := s.Recent(ctx, 0, 10)
	if err != nil {
		t.Fatalf("recent all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("want 3 turns across conversations, got %d", len(all))
	}

	convs, err := s.Conversations(ctx)
	if err != nil {
		t.Fatalf("conversations: %v", err)
	}
	if len(convs) != 2 {
		t.Fatalf("want 2 conversations, got %+v", convs)
	}
	for _, c := range convs {
		switch c.ID {
		case 10:
			if c.Turns != 2 || c.FirstPrompt != "x1" {
				t.Errorf("conversation 10: %+v", c)
			}
		case 11:
			if c.Turns != 1 || c.FirstPrompt != "y1" {
				t.Errorf("conversation 11: %+v", c)
			}
		default:
			t.Errorf("unexpected conversation %d", c.ID)
		}
	}

	maxID, err := s.MaxConversationID(ctx)
	if err != nil || maxID != 11 {
		t.Errorf("want max id 11, got %d (%v)", maxID, err)
	}
}

func Test_Store_EmptyDatabase(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	recs, err := s.Recent(t.Context(), 99, 10)
	if err != nil || len(recs) != 0 {
		t.Errorf("want no records, got %d (%v)", len(recs), err)
	}
	maxID, err := s.MaxConversationID(t.Context())
	if err != nil || maxID != 0 {
		t.Errorf("want max id 0, got %d (%v)", maxID, err)
	}
}

func Test_Store_FileBackedPersists(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Append(t.Context(), turn(5, "persist me", "ok")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	t.Cleanup(func() { _ = s2.Close() })
	recs, err := s2.Recent(t.Context(), 5, 1)
	if err != nil || len(recs) != 1 || recs[0].Prompt != "persist me" {
		t.Errorf("want persisted turn, got %+v (%v)", recs, err)
	}
}
