package streamchat

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/54b3r/ragchat-go/internal/api"
)

// HistoryRecorder persists finalized turns. internal/history.Store
// implements it.
type HistoryRecorder interface {
	Append(ctx context.Context, turn *ConversationTurn) error
}

// SessionConfig holds the per-conversation settings of a Session.
type SessionConfig struct {
	// SystemPrompt is sent with every request.
	SystemPrompt string
	// RAGDocuments is numberOfRagDocumentsToInclude; zero leaves it to the
	// backend.
	RAGDocuments int
	// DocumentIDs restricts retrieval to these document sources.
	DocumentIDs []int64
	// ConversationID continues an existing conversation when non-zero.
	ConversationID int64
	// Recorder is optional.
	Recorder HistoryRecorder
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Session owns one conversation from the caller's side: its settings, its
// conversation id and an append-only history of finalized turns. At most
// one stream runs at a time.
type Session struct {
	streamer *Streamer
	recorder HistoryRecorder
	log      *slog.Logger

	mu             sync.Mutex
	systemPrompt   string
	ragDocuments   int
	documentIDs    []int64
	conversationID int64
	history        []ConversationTurn
	current        *Handle
	opening        bool
}

// NewSession returns a Session that opens its streams through s.
func NewSession(s *Streamer, cfg SessionConfig) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		streamer:       s,
		recorder:       cfg.Recorder,
		log:            log,
		systemPrompt:   cfg.SystemPrompt,
		ragDocuments:   cfg.RAGDocuments,
		documentIDs:    append([]int64(nil), cfg.DocumentIDs...),
		conversationID: cfg.ConversationID,
	}
}

// Send opens a stream for prompt. It returns ErrEmptyPrompt for a blank
// prompt and ErrStreamInProgress while an earlier stream is still running.
func (s *Session) Send(ctx context.Context, prompt string) (*Handle, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	s.mu.Lock()
	if s.opening || (s.current != nil && !s.current.State().Terminal()) {
		s.mu.Unlock()
		return nil, ErrStreamInProgress
	}
	s.opening = true
	req := s.requestLocked(prompt)
	s.mu.Unlock()

	h, err := s.streamer.Open(ctx, req)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.opening = false
	if err != nil {
		return nil, err
	}
	s.current = h
	return h, nil
}

// requestLocked builds the ChatRequest for prompt. Caller holds mu.
func (s *Session) requestLocked(prompt string) api.ChatRequest {
	req := api.ChatRequest{
		SystemPrompt:      s.systemPrompt,
		UserPrompt:        prompt,
		DocumentSourceIDs: append([]int64(nil), s.documentIDs...),
	}
	if s.conversationID != 0 {
		id := s.conversationID
		req.ConversationID = &id
	}
	if s.ragDocuments > 0 {
		n := s.ragDocuments
		req.NumberOfRagDocumentsToInclude = &n
	}
	return req
}

// Finish waits for h and, on success, appends the turn to the history and
// adopts its conversation id. Failed and cancelled streams leave the session
// unchanged. A recorder failure is logged and does not fail the turn.
func (s *Session) Finish(ctx context.Context, h *Handle) (*ConversationTurn, error) {
	turn, err := h.Wait(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	owned := s.current == h
	if owned {
		s.history = append(s.history, *turn)
		if turn.HasConversationID() {
			s.conversationID = turn.ConversationID
		}
	}
	s.mu.Unlock()

	// A turn finished after Reset belongs to the discarded conversation.
	if owned && s.recorder != nil {
		if rerr := s.recorder.Append(ctx, turn); rerr != nil {
			s.log.Warn("streamchat: failed to record turn",
				slog.Int64("conversation_id", turn.ConversationID),
				slog.Any("error", rerr),
			)
		}
	}
	return turn, nil
}

// Reset starts a new conversation: the running stream, if any, is cancelled
// and the conversation id and in-memory history are cleared.
func (s *Session) Reset() {
	s.mu.Lock()
	h := s.current
	s.current = nil
	s.conversationID = 0
	s.history = nil
	s.mu.Unlock()
	if h != nil {
		h.Cancel()
	}
}

// History returns a copy of the finalized turns in order.
func (s *Session) History() []ConversationTurn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ConversationTurn, len(s.history))
	copy(out, s.history)
	return out
}

// ConversationID returns the current conversation id, zero before the
// backend has assigned one.
func (s *Session) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// Current returns the most recent handle, or nil.
func (s *Session) Current() *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}
