package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// fakeModel replays fixed chunks as an eino stream.
type fakeModel struct {
	chunks []*schema.Message
	err    error
	got    []*schema.Message
}

func (f *fakeModel) Stream(_ context.Context, in []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return schema.StreamReaderFromArray(f.chunks), nil
}

func TestModelGenerator_SplitsReasoningAndContent(t *testing.T) {
	t.Parallel()

	last := &schema.Message{Role: schema.Assistant, Content: "!"}
	last.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}}
	fm := &fakeModel{chunks: []*schema.Message{
		{Role: schema.Assistant, ReasoningContent: "let me think"},
		{Role: schema.Assistant, Content: "Hello"},
		last,
	}}
	g := &ModelGenerator{model: fm, name: "qwen3", backend: "ollama"}

	p := &Prompt{User: "hi", Messages: []*schema.Message{schema.UserMessage("hi")}}
	var frags []Fragment
	res, err := g.Generate(t.Context(), p, func(f Fragment) error {
		frags = append(frags, f)
		return nil
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	want := []Fragment{{Thinking: "let me think"}, {Content: "Hello"}, {Content: "!"}}
	if len(frags) != len(want) {
		t.Fatalf("fragments: got %+v", frags)
	}
	for i := range want {
		if frags[i] != want[i] {
			t.Errorf("fragment %d: got %+v, want %+v", i, frags[i], want[i])
		}
	}
	if res.Usage == nil || res.Usage.TotalTokens != 15 {
		t.Errorf("usage: got %+v", res.Usage)
	}
	if len(fm.got) != 1 || fm.got[0].Content != "hi" {
		t.Errorf("model input: got %+v", fm.got)
	}
	if g.Name() != "qwen3" {
		t.Errorf("name: got %q", g.Name())
	}
}

func TestModelGenerator_StreamError(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	g := &ModelGenerator{model: &fakeModel{err: boom}, name: "m", backend: "openai"}
	if _, err := g.Generate(t.Context(), &Prompt{}, func(Fragment) error { return nil }); !errors.Is(err, boom) {
		t.Errorf("expected wrapped stream error, got %v", err)
	}
}

func TestModelGenerator_EmitErrorStops(t *testing.T) {
	t.Parallel()

	fm := &fakeModel{chunks: []*schema.Message{{Content: "a"}, {Content: "b"}}}
	g := &ModelGenerator{model: fm, name: "m", backend: "ollama"}
	stop := errors.New("client gone")
	calls := 0
	_, err := g.Generate(t.Context(), &Prompt{}, func(Fragment) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Errorf("expected stop after first fragment, got %v after %d calls", err, calls)
	}
}

func TestNewModelGenerator_Validates(t *testing.T) {
	t.Parallel()

	if _, err := NewModelGenerator(nil, "m", "ollama"); err == nil {
		t.Error("expected error for nil model")
	}
	if _, err := NewModelGenerator(&fakeModel{}, "", "ollama"); err == nil {
		t.Error("expected error for empty name")
	}
	g, err := NewModelGenerator(&fakeModel{}, "gpt-4o-mini", "openai")
	if err != nil || g.Name() != "gpt-4o-mini" {
		t.Errorf("got %v, %v", g, err)
	}
}

func TestOllamaPinger(t *testing.T) {
	t.Parallel()

	var status atomic.Int32
	status.Store(http.StatusOK)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(int(status.Load()))
	}))
	defer srv.Close()

	p := NewOllamaPinger(srv.URL + "/")
	if p.Name() != "ollama" {
		t.Errorf("name: got %q", p.Name())
	}
	if err := p.Ping(t.Context()); err != nil {
		t.Errorf("healthy daemon: %v", err)
	}

	status.Store(http.StatusInternalServerError)
	if err := p.Ping(t.Context()); err == nil {
		t.Error("expected error for 500")
	}
}
