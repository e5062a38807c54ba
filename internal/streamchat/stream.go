// Package streamchat accumulates the server-sent event stream of one chat
// request into a live partial answer and, at end of stream, a finalized
// [ConversationTurn].
//
// A [Streamer] opens streams; each call yields a fresh [Handle] driven by a
// single read goroutine. Readers observe progress through [Handle.Partial]
// and [Handle.Updates] and collect the result with [Handle.Wait].
package streamchat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/54b3r/ragchat-go/internal/api"
)

// readChunkSize is the size of each read from the response body.
const readChunkSize = 4096

// State is the lifecycle position of a Handle.
type State int

const (
	// StateIdle is a handle that has not started reading.
	StateIdle State = iota
	// StateStreaming is a handle whose read loop is running.
	StateStreaming
	// StateCompleted is a stream that reached end of body.
	StateCompleted
	// StateFailed is a stream aborted by a transport error.
	StateFailed
	// StateCancelled is a stream aborted by the caller.
	StateCancelled
)

// String returns the lowercase state name, also used as the metrics label.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Opener starts the HTTP exchange for one stream. *api.Client implements it.
type Opener interface {
	OpenStream(ctx context.Context, req api.ChatRequest) (*http.Response, error)
}

// Config holds the dependencies of a Streamer.
type Config struct {
	// Client opens the HTTP stream. Required.
	Client Opener
	// Logger receives stream lifecycle and malformed-event records.
	// Defaults to slog.Default.
	Logger *slog.Logger
	// Metrics is optional.
	Metrics *Metrics
	// Now overrides the clock; tests pin it for deterministic turn times.
	Now func() time.Time
}

// Streamer opens chat streams. It is safe for concurrent use; every Open
// returns an independent Handle.
type Streamer struct {
	client  Opener
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewStreamer constructs a Streamer from cfg.
func NewStreamer(cfg Config) (*Streamer, error) {
	if cfg.Client == nil {
		return nil, errors.New("streamchat: Config.Client must not be nil")
	}
	s := &Streamer{
		client:  cfg.Client,
		log:     cfg.Logger,
		metrics: cfg.Metrics,
		now:     cfg.Now,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Open posts req to the streaming endpoint and starts accumulating its
// events. Failures before a 2xx status is known are returned directly:
// *api.TransportError for network and HTTP errors, ErrCancelled when ctx
// ended first.
func (s *Streamer) Open(ctx context.Context, req api.ChatRequest) (*Handle, error) {
	start := s.now()
	streamCtx, cancel := context.WithCancel(ctx)

	resp, err := s.client.OpenStream(streamCtx, req)
	if err != nil {
		cancel()
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			s.metrics.observe(StateCancelled, s.now().Sub(start))
			return nil, ErrCancelled
		}
		s.metrics.observe(StateFailed, s.now().Sub(start))
		s.log.Warn("streamchat: open failed", slog.Any("error", err))
		return nil, err
	}
	if resp.Body == nil {
		cancel()
		s.metrics.observe(StateFailed, s.now().Sub(start))
		return nil, api.ErrNoBody
	}

	h := &Handle{
		prompt:  req.UserPrompt,
		ctx:     streamCtx,
		cancel:  cancel,
		start:   start,
		now:     s.now,
		log:     s.log,
		metrics: s.metrics,
		state:   StateStreaming,
		updates: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	h.dec = NewDecoder(s.log)
	h.dec.OnMalformed(func(string, error) { s.metrics.malformed() })

	s.metrics.started()
	s.log.Debug("streamchat: stream opened",
		slog.Int("status", resp.StatusCode),
		slog.Int64("conversation_id", derefID(req.ConversationID)),
	)

	go h.run(resp.Body)
	return h, nil
}

// Partial is a point-in-time view of a stream in progress.
type Partial struct {
	// Response is the CONTENT text received so far.
	Response string
	// Thinking is the THINKING text received so far.
	Thinking string
	// Model and ConversationID come from the first event, when one arrived.
	Model          string
	ConversationID int64
	// RAGDocuments counts RAG_DOCUMENT events.
	RAGDocuments int
	// Events counts all accepted events.
	Events int
	// ContentEvents and ThinkingEvents count the two text-bearing types.
	ContentEvents  int
	ThinkingEvents int
	// State is the handle state at snapshot time.
	State State
}

// StillThinking reports whether the model has reasoned but not yet answered.
// It agrees with IsThinking over the same events.
func (p Partial) StillThinking() bool {
	return p.ThinkingEvents > 0 && p.ContentEvents == 0
}

// Handle is one in-flight stream. All methods are safe for concurrent use.
type Handle struct {
	prompt  string
	ctx     context.Context
	cancel  context.CancelFunc
	start   time.Time
	now     func() time.Time
	log     *slog.Logger
	metrics *Metrics

	// dec is owned by the read goroutine.
	dec *Decoder

	updates chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	state     State
	cancelled bool
	events    []api.StreamEvent
	response  strings.Builder
	thinking  strings.Builder
	partial   Partial
	turn      *ConversationTurn
	err       error
}

// Prompt returns the user prompt the stream was opened with.
func (h *Handle) Prompt() string { return h.prompt }

// Cancel aborts the stream. It is idempotent and a no-op once the stream has
// finished. Events decoded after the call are discarded.
func (h *Handle) Cancel() {
	h.mu.Lock()
	if h.cancelled || h.state.Terminal() {
		h.mu.Unlock()
		return
	}
	h.cancelled = true
	h.mu.Unlock()
	h.cancel()
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Events returns a copy of the events accepted so far, in arrival order.
func (h *Handle) Events() []api.StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]api.StreamEvent, len(h.events))
	copy(out, h.events)
	return out
}

// Partial returns the live partial answer.
func (h *Handle) Partial() Partial {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := h.partial
	p.Response = h.response.String()
	p.Thinking = h.thinking.String()
	p.State = h.state
	return p
}

// Updates returns a channel that receives a value whenever new events have
// been accepted. Notifications coalesce; the channel is closed when the
// handle reaches a terminal state.
func (h *Handle) Updates() <-chan struct{} { return h.updates }

// Done is closed when the stream has finished, whatever the outcome.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the stream finishes or ctx ends. It returns the
// finalized turn on success, a *api.TransportError on failure, or
// ErrCancelled after cancellation. A ctx ending does not cancel the stream.
func (h *Handle) Wait(ctx context.Context) (*ConversationTurn, error) {
	// A finished stream reports its own outcome even when ctx is also done.
	select {
	case <-h.done:
	default:
		select {
		case <-h.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turn, h.err
}

// run is the single read loop of the handle.
func (h *Handle) run(body io.ReadCloser) {
	defer body.Close()

	buf := make([]byte, readChunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			h.publish(h.dec.Feed(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			h.publish(h.dec.Flush())
			h.complete()
			return
		}
		if err != nil {
			h.fail(err)
			return
		}
	}
}

// publish appends evs unless the stream has been cancelled.
func (h *Handle) publish(evs []api.StreamEvent) {
	if len(evs) == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.ctx.Err() != nil {
		return
	}
	for i := range evs {
		h.accept(&evs[i])
	}
	h.events = append(h.events, evs...)

	select {
	case h.updates <- struct{}{}:
	default:
	}
}

// accept folds one event into the running partial view. Caller holds mu.
func (h *Handle) accept(ev *api.StreamEvent) {
	p := &h.partial
	if p.Events == 0 {
		p.Model = ev.Model
	} else if ev.Model != p.Model {
		h.log.Debug("streamchat: model changed mid-stream",
			slog.String("first", p.Model),
			slog.String("got", ev.Model),
		)
	}
	if ev.ConversationID != 0 {
		if p.ConversationID == 0 {
			p.ConversationID = ev.ConversationID
		} else if ev.ConversationID != p.ConversationID {
			h.log.Debug("streamchat: conversation id changed mid-stream",
				slog.Int64("first", p.ConversationID),
				slog.Int64("got", ev.ConversationID),
			)
		}
	}
	p.Events++

	switch ev.ItemType {
	case api.ItemContent:
		p.ContentEvents++
		h.response.WriteString(ev.Output)
	case api.ItemThinking:
		p.ThinkingEvents++
		h.thinking.WriteString(ev.Output)
	case api.ItemRAGDocument:
		p.RAGDocuments++
	}
	h.metrics.event(ev.ItemType)
}

// complete finalizes a stream that reached end of body.
func (h *Handle) complete() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.ctx.Err() != nil {
		h.finish(StateCancelled, ErrCancelled)
		return
	}
	h.turn = Assemble(h.prompt, h.events, h.start, h.now())
	h.finish(StateCompleted, nil)
}

// fail finalizes a stream whose read returned an error. A read error caused
// by cancellation is reported as ErrCancelled, never as a transport error.
func (h *Handle) fail(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled || h.ctx.Err() != nil {
		h.finish(StateCancelled, ErrCancelled)
		return
	}
	h.finish(StateFailed, &api.TransportError{Op: "stream", Err: err})
}

// finish moves the handle to a terminal state. Caller holds mu. The outcome
// is decided before the stream context is released.
func (h *Handle) finish(state State, err error) {
	h.state = state
	h.err = err
	h.cancel()
	close(h.updates)
	close(h.done)

	elapsed := h.now().Sub(h.start)
	h.metrics.finished(state, elapsed)

	attrs := []any{
		slog.String("outcome", state.String()),
		slog.Int("events", len(h.events)),
		slog.Duration("duration", elapsed),
	}
	if err != nil && state == StateFailed {
		h.log.Warn("streamchat: stream failed", append(attrs, slog.Any("error", err))...)
		return
	}
	h.log.Debug("streamchat: stream finished", attrs...)
}

func derefID(id *int64) int64 {
	if id == nil {
		return 0
	}
	return *id
}
