package tui

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/logging"
	"github.com/54b3r/ragchat-go/internal/streamchat"
)

const answer = `data:{"model":"m","conversationId":3,"itemType":"RAG_DOCUMENT","vectorSearchResult":{"text":"t","metadata":{"sourceName":"a.md"},"score":0.5}}

data:{"model":"m","conversationId":3,"itemType":"THINKING","output":"hmm"}

data:{"model":"m","conversationId":3,"itemType":"CONTENT","output":"Hi there"}

data:{"model":"m","conversationId":3,"itemType":"META_DATA","totalTokensUsed":7,"promptTokensUsed":5,"completionTokensUsed":2}

`

// opener serves a fixed body, or a body that stays open until the request
// context ends when hang is set.
type opener struct{ hang bool }

func (o opener) OpenStream(ctx context.Context, _ api.ChatRequest) (*http.Response, error) {
	if !o.hang {
		return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(answer))}, nil
	}
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pw.CloseWithError(ctx.Err())
	}()
	return &http.Response{StatusCode: http.StatusOK, Body: pr}, nil
}

func newModel(t *testing.T, o opener) (Model, *streamchat.Session) {
	t.Helper()
	st, err := streamchat.NewStreamer(streamchat.Config{Client: o, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewStreamer: %v", err)
	}
	sess := streamchat.NewSession(st, streamchat.SessionConfig{Logger: logging.Discard()})
	m := New(t.Context(), sess, "ragchat")
	m = update(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	return m, sess
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func typeAndSend(t *testing.T, m Model, prompt string) Model {
	t.Helper()
	m.input.SetValue(prompt)
	return update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
}

// drain feeds stream messages for the current handle until it finishes.
func drain(t *testing.T, m Model, chat Chatter) Model {
	t.Helper()
	h := m.current
	deadline := time.Now().Add(5 * time.Second)
	for m.Streaming() {
		if time.Now().After(deadline) {
			t.Fatal("stream did not finish")
		}
		m = update(t, m, waitForStream(t.Context(), chat, h)())
	}
	return m
}

func TestModel_StreamsAnswerIntoTranscript(t *testing.T) {
	t.Parallel()

	m, sess := newModel(t, opener{})
	m = typeAndSend(t, m, "hello")
	if !m.Streaming() {
		t.Fatal("expected a stream in progress")
	}
	if m.input.Value() != "" {
		t.Errorf("prompt line not cleared: %q", m.input.Value())
	}

	m = drain(t, m, sess)

	if len(m.transcript) != 1 {
		t.Fatalf("transcript: got %d entries", len(m.transcript))
	}
	e := m.transcript[0]
	if e.prompt != "hello" || e.response != "Hi there" || e.thinking != "hmm" || e.note != "" {
		t.Errorf("entry: %+v", e)
	}
	if len(e.sources) != 1 || e.sources[0] != "a.md" {
		t.Errorf("sources: %v", e.sources)
	}
	if !strings.Contains(m.status, "conversation 3") || !strings.Contains(m.status, "7 tokens") {
		t.Errorf("status: %q", m.status)
	}
	view := m.View()
	for _, want := range []string{"Hi there", "conversation 3", "sources: a.md"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestModel_EscCancels(t *testing.T) {
	t.Parallel()

	m, sess := newModel(t, opener{hang: true})
	m = typeAndSend(t, m, "slow question")
	h := m.current

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	m = drain(t, m, sess)

	if h.State() != streamchat.StateCancelled {
		t.Errorf("state: got %v, want cancelled", h.State())
	}
	if len(m.transcript) != 1 || m.transcript[0].note != "cancelled" {
		t.Errorf("transcript: %+v", m.transcript)
	}
	if len(sess.History()) != 0 {
		t.Error("cancelled turn reached the session history")
	}
}

func TestModel_CtrlNStartsNewConversation(t *testing.T) {
	t.Parallel()

	m, sess := newModel(t, opener{})
	m = drain(t, typeAndSend(t, m, "hello"), sess)
	if sess.ConversationID() != 3 {
		t.Fatalf("conversation id: got %d", sess.ConversationID())
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})

	if len(m.transcript) != 0 || sess.ConversationID() != 0 {
		t.Errorf("reset left state behind: %d entries, conversation %d", len(m.transcript), sess.ConversationID())
	}
}

func TestModel_ResetDuringStreamIgnoresLateMessages(t *testing.T) {
	t.Parallel()

	m, sess := newModel(t, opener{hang: true})
	m = typeAndSend(t, m, "question")
	h := m.current

	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlN})
	if m.Streaming() {
		t.Fatal("reset should drop the running stream")
	}

	late := waitForStream(t.Context(), sess, h)()
	for {
		if _, ok := late.(doneMsg); ok {
			break
		}
		late = waitForStream(t.Context(), sess, h)()
	}
	m = update(t, m, late)
	if len(m.transcript) != 0 {
		t.Errorf("late completion reached the transcript: %+v", m.transcript)
	}
}

func TestModel_EmptyPromptIgnored(t *testing.T) {
	t.Parallel()

	m, _ := newModel(t, opener{})
	m = typeAndSend(t, m, "   ")
	if m.Streaming() {
		t.Error("blank prompt started a stream")
	}
}

// busyChatter always reports a stream in progress.
type busyChatter struct{}

func (busyChatter) Send(context.Context, string) (*streamchat.Handle, error) {
	return nil, streamchat.ErrStreamInProgress
}
func (busyChatter) Finish(context.Context, *streamchat.Handle) (*streamchat.ConversationTurn, error) {
	return nil, nil
}
func (busyChatter) Reset()                {}
func (busyChatter) ConversationID() int64 { return 0 }

func TestModel_RejectsSecondPrompt(t *testing.T) {
	t.Parallel()

	m := New(t.Context(), busyChatter{}, "ragchat")
	m = typeAndSend(t, m, "again")
	if !strings.Contains(m.status, "still streaming") {
		t.Errorf("status: %q", m.status)
	}
}

func TestEventSources_Distinct(t *testing.T) {
	t.Parallel()

	doc := func(name string) api.StreamEvent {
		return api.StreamEvent{ItemType: api.ItemRAGDocument, VectorSearchResult: &api.VectorSearchResult{Metadata: map[string]any{"sourceName": name}}}
	}
	got := eventSources([]api.StreamEvent{doc("a.md"), doc("b.md"), doc("a.md"), {ItemType: api.ItemContent}, doc("")})
	if strings.Join(got, ",") != "a.md,b.md" {
		t.Errorf("got %v", got)
	}
}
