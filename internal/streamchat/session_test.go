package streamchat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/logging"
)

// memRecorder is an in-memory HistoryRecorder.
type memRecorder struct {
	mu    sync.Mutex
	turns []ConversationTurn
	err   error
}

func (r *memRecorder) Append(_ context.Context, turn *ConversationTurn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.turns = append(r.turns, *turn)
	return nil
}

func (r *memRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns)
}

func newTestSession(t *testing.T, cfg SessionConfig) (*Session, *pipeOpener) {
	t.Helper()
	o := &pipeOpener{}
	s, _ := newTestStreamer(t, o)
	cfg.Logger = logging.Discard()
	return NewSession(s, cfg), o
}

func TestSession_SendRejectsEmptyPrompt(t *testing.T) {
	t.Parallel()

	sess, _ := newTestSession(t, SessionConfig{})
	if _, err := sess.Send(t.Context(), "   \n"); !errors.Is(err, ErrEmptyPrompt) {
		t.Fatalf("want ErrEmptyPrompt, got %v", err)
	}
}

func TestSession_RejectsConcurrentStream(t *testing.T) {
	t.Parallel()

	sess, o := newTestSession(t, SessionConfig{})
	h, err := sess.Send(t.Context(), "first")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if _, err := sess.Send(t.Context(), "second"); !errors.Is(err, ErrStreamInProgress) {
		t.Fatalf("want ErrStreamInProgress, got %v", err)
	}

	o.writer().Close()
	if _, err := sess.Finish(t.Context(), h); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	h2, err := sess.Send(t.Context(), "second")
	if err != nil {
		t.Fatalf("Send after finish: %v", err)
	}
	h2.Cancel()
}

func TestSession_FinishAppendsAndAdoptsConversation(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{}
	sess, o := newTestSession(t, SessionConfig{
		SystemPrompt: "be brief",
		RAGDocuments: 3,
		DocumentIDs:  []int64{1, 2},
		Recorder:     rec,
	})

	h, err := sess.Send(t.Context(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	req := o.lastRequest()
	if req.ConversationID != nil {
		t.Errorf("want no conversation id on first request, got %d", *req.ConversationID)
	}
	if req.SystemPrompt != "be brief" || *req.NumberOfRagDocumentsToInclude != 3 || len(req.DocumentSourceIDs) != 2 {
		t.Errorf("unexpected request: %+v", req)
	}

	w := o.writer()
	write(t, w, `data: {"model":"m","conversationId":11,"itemType":"CONTENT","output":"hi"}`+"\n\n")
	w.Close()

	turn, err := sess.Finish(t.Context(), h)
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if turn.Response != "hi" {
		t.Errorf("want response hi, got %q", turn.Response)
	}
	if got := sess.ConversationID(); got != 11 {
		t.Errorf("want adopted conversation id 11, got %d", got)
	}
	if hist := sess.History(); len(hist) != 1 || hist[0].Prompt != "hello" {
		t.Errorf("want one turn in history, got %+v", hist)
	}
	if rec.len() != 1 {
		t.Errorf("want recorder to hold one turn, got %d", rec.len())
	}

	h2, err := sess.Send(t.Context(), "again")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if req := o.lastRequest(); req.ConversationID == nil || *req.ConversationID != 11 {
		t.Errorf("want follow-up request to carry conversation 11, got %v", req.ConversationID)
	}
	h2.Cancel()
}

func TestSession_CancelledTurnNotAppended(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{}
	sess, o := newTestSession(t, SessionConfig{Recorder: rec})

	h, err := sess.Send(t.Context(), "q")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	write(t, o.writer(), `data: {"itemType":"CONTENT","output":"a"}`+"\n\n"+
		`data: {"itemType":"CONTENT","output":"b"}`+"\n\n")
	waitPartial(t, h, func(p Partial) bool { return p.Events == 2 })
	h.Cancel()

	if _, err := sess.Finish(t.Context(), h); !errors.Is(err, ErrCancelled) {
		t.Fatalf("want ErrCancelled, got %v", err)
	}
	if p := h.Partial(); p.Response != "ab" {
		t.Errorf("want live view %q, got %q", "ab", p.Response)
	}
	if len(sess.History()) != 0 || rec.len() != 0 {
		t.Error("want no turn recorded after cancel")
	}
}

func TestSession_FailedTurnNotAppended(t *testing.T) {
	t.Parallel()

	sess, o := newTestSession(t, SessionConfig{})
	h, err := sess.Send(t.Context(), "q")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	o.writer().CloseWithError(errors.New("boom"))

	if _, err := sess.Finish(t.Context(), h); !api.IsTransport(err) {
		t.Fatalf("want transport error, got %v", err)
	}
	if len(sess.History()) != 0 {
		t.Error("want empty history after failure")
	}
}

func TestSession_RecorderErrorIsNotFatal(t *testing.T) {
	t.Parallel()

	rec := &memRecorder{err: errors.New("disk full")}
	sess, o := newTestSession(t, SessionConfig{Recorder: rec})
	h, err := sess.Send(t.Context(), "q")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	o.writer().Close()

	if _, err := sess.Finish(t.Context(), h); err != nil {
		t.Fatalf("want recorder failure to be ignored, got %v", err)
	}
	if len(sess.History()) != 1 {
		t.Error("want turn in in-memory history")
	}
}

func TestSession_Reset(t *testing.T) {
	t.Parallel()

	sess, o := newTestSession(t, SessionConfig{ConversationID: 5})
	h, err := sess.Send(t.Context(), "q")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if req := o.lastRequest(); req.ConversationID == nil || *req.ConversationID != 5 {
		t.Fatalf("want configured conversation id 5, got %v", req.ConversationID)
	}

	sess.Reset()

	if _, err := waitTurn(t, h); !errors.Is(err, ErrCancelled) {
		t.Fatalf("want reset to cancel the running stream, got %v", err)
	}
	if sess.ConversationID() != 0 || len(sess.History()) != 0 || sess.Current() != nil {
		t.Error("want session cleared after reset")
	}
}
