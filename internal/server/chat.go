package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/budget"
	"github.com/54b3r/ragchat-go/internal/logging"
	"github.com/54b3r/ragchat-go/internal/streamchat"
)

// maxRequestBytes caps JSON request bodies.
const maxRequestBytes = 1 << 20

// defaultSystemPrompt applies when a request carries no systemPrompt.
const defaultSystemPrompt = "You are a helpful assistant. Answer from the provided documents when they are relevant and say so when they are not."

// handleChatStream handles POST /api/v1/chat/generic/stream. The answer is
// streamed as `data:` records, one StreamEvent each: retrieved documents
// first, then thinking and content fragments, then META_DATA.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sw := &sseWriter{w: w, flusher: flusher}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	start := time.Now()
	_, err := s.answer(r.Context(), req, sw.WriteEvent)
	s.observeChat(r.Context(), "stream", err, time.Since(start))
	if err == nil {
		return
	}

	log := logging.FromContext(r.Context())
	if r.Context().Err() != nil {
		log.Info("chat stream: client went away", slog.Any("error", err))
		return
	}
	log.Error("chat stream: generation failed", slog.Any("error", err))
	// The status line is already sent. Aborting the connection is the only
	// way to tell the client the answer is incomplete.
	panic(http.ErrAbortHandler)
}

// handleChat handles POST /api/v1/chat/generic and returns the finished
// answer as one ChatResponse.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChat(w, r)
	if !ok {
		return
	}

	start := time.Now()
	turn, err := s.answer(r.Context(), req, func(api.StreamEvent) error { return nil })
	s.observeChat(r.Context(), "generic", err, time.Since(start))
	if err != nil {
		logging.FromContext(r.Context()).Error("chat: generation failed", slog.Any("error", err))
		http.Error(w, "generation failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, r, http.StatusOK, api.ChatResponse{
		Prompt:              turn.Prompt,
		Response:            turn.Response,
		Thinking:            turn.Thinking,
		VectorSearchResults: nonNil(turn.VectorSearchResults),
		Model:               turn.Model,
		ConversationID:      turn.ConversationID,
		RequestStartTime:    turn.RequestStartTime,
		RequestEndTime:      turn.RequestEndTime,
	})
}

// decodeChat reads and validates a ChatRequest, writing a 400 on failure.
func (s *Server) decodeChat(w http.ResponseWriter, r *http.Request) (api.ChatRequest, bool) {
	var req api.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return req, false
	}
	if strings.TrimSpace(req.UserPrompt) == "" {
		http.Error(w, "userPrompt is required", http.StatusBadRequest)
		return req, false
	}
	if n := req.NumberOfRagDocumentsToInclude; n != nil && *n < 0 {
		http.Error(w, "numberOfRagDocumentsToInclude must not be negative", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// answer runs one chat turn: retrieval, generation and bookkeeping. Every
// event is passed to emit in order; an emit error aborts the turn. The
// returned turn is assembled from exactly the events emitted, so the
// streaming and non-streaming endpoints agree.
func (s *Server) answer(ctx context.Context, req api.ChatRequest, emit func(api.StreamEvent) error) (*streamchat.ConversationTurn, error) {
	log := logging.FromContext(ctx)
	start := time.Now()

	convID := s.conversationID(req)
	model := s.generator.Name()

	n := s.cfg.DefaultRAGDocuments
	if req.NumberOfRagDocumentsToInclude != nil {
		n = *req.NumberOfRagDocumentsToInclude
	}
	docs, err := s.search(ctx, req.UserPrompt, n, req.DocumentSourceIDs)
	if err != nil {
		return nil, err
	}

	var events []api.StreamEvent
	send := func(ev api.StreamEvent) error {
		ev.Model = model
		ev.ConversationID = convID
		events = append(events, ev)
		s.metrics.eventsEmittedTotal.WithLabelValues(string(ev.ItemType)).Inc()
		return emit(ev)
	}

	for i := range docs {
		if err := send(api.StreamEvent{ItemType: api.ItemRAGDocument, VectorSearchResult: &docs[i]}); err != nil {
			return nil, fmt.Errorf("send rag document: %w", err)
		}
	}

	prompt := &Prompt{
		ConversationID: convID,
		User:           req.UserPrompt,
		Documents:      docs,
		Messages:       s.buildMessages(ctx, req, convID, docs),
	}

	var completion strings.Builder
	res, err := s.generator.Generate(ctx, prompt, func(f Fragment) error {
		if f.Thinking != "" {
			return send(api.StreamEvent{ItemType: api.ItemThinking, Output: f.Thinking})
		}
		if f.Content == "" {
			return nil
		}
		completion.WriteString(f.Content)
		return send(api.StreamEvent{ItemType: api.ItemContent, Output: f.Content})
	})
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	meta := api.StreamEvent{ItemType: api.ItemMetaData}
	if res != nil && res.Usage != nil {
		meta.PromptTokensUsed = intRef(res.Usage.PromptTokens)
		meta.CompletionTokensUsed = intRef(res.Usage.CompletionTokens)
		meta.TotalTokensUsed = intRef(res.Usage.TotalTokens)
	} else {
		u := budget.EstimateUsage(prompt.Messages, completion.String())
		meta.PromptTokensUsed = intRef(u.Prompt)
		meta.CompletionTokensUsed = intRef(u.Completion)
		meta.TotalTokensUsed = intRef(u.Total())
	}
	if rw := s.corpus.Rewrite(req.UserPrompt); rw != "" {
		meta.QueryRewrite = &rw
	}
	if err := send(meta); err != nil {
		return nil, fmt.Errorf("send metadata: %w", err)
	}

	turn := streamchat.Assemble(req.UserPrompt, events, start, time.Now())
	if s.memory != nil {
		// The answer has been delivered; losing it from memory only costs
		// context on the next turn.
		if err := s.memory.Append(context.WithoutCancel(ctx), turn); err != nil {
			log.Warn("chat: remember turn failed", slog.Any("error", err))
		}
	}
	log.Info("chat turn complete",
		slog.Int64("conversation_id", convID),
		slog.Int("rag_documents", len(docs)),
		slog.Int("events", len(events)),
		slog.Duration("duration", turn.Duration()),
	)
	return turn, nil
}

// buildMessages assembles the model input: the system prompt with the
// retrieved context, remembered turns that fit the token budget, and the
// user prompt.
func (s *Server) buildMessages(ctx context.Context, req api.ChatRequest, convID int64, docs []api.VectorSearchResult) []*schema.Message {
	system := req.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}
	if len(docs) > 0 {
		var b strings.Builder
		b.WriteString(system)
		b.WriteString("\n\nContext documents:\n")
		for i, d := range docs {
			src, _ := d.Metadata["sourceName"].(string)
			fmt.Fprintf(&b, "[%d] (%s) %s\n", i+1, src, d.Text)
		}
		system = b.String()
	}
	fixed := []*schema.Message{schema.SystemMessage(system), schema.UserMessage(req.UserPrompt)}

	var past []*schema.Message
	if s.memory != nil {
		records, err := s.memory.Recent(ctx, convID, s.cfg.MemoryDepth)
		if err != nil {
			logging.FromContext(ctx).Warn("chat: load memory failed", slog.Any("error", err))
		}
		for _, rec := range records {
			past = append(past,
				schema.UserMessage(rec.Prompt),
				schema.AssistantMessage(rec.Response, nil),
			)
		}
	}
	past = budget.TrimHistory(fixed, past, s.cfg.MaxContextTokens)

	msgs := make([]*schema.Message, 0, len(past)+2)
	msgs = append(msgs, fixed[0])
	msgs = append(msgs, past...)
	return append(msgs, fixed[1])
}

// conversationID returns the request's conversation id, or allocates a new
// one. Allocated ids never collide with ids the server has already seen.
func (s *Server) conversationID(req api.ChatRequest) int64 {
	if req.ConversationID != nil && *req.ConversationID > 0 {
		id := *req.ConversationID
		for {
			last := s.lastConversationID.Load()
			if id <= last || s.lastConversationID.CompareAndSwap(last, id) {
				return id
			}
		}
	}
	return s.lastConversationID.Add(1)
}

// observeChat records the outcome of one chat request.
func (s *Server) observeChat(ctx context.Context, endpoint string, err error, d time.Duration) {
	outcome := "ok"
	switch {
	case err == nil:
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		outcome = "cancelled"
	default:
		outcome = "error"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(endpoint, outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(endpoint, outcome).Observe(d.Seconds())
}

// sseWriter emits StreamEvents as SSE data records.
type sseWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each event.
	flusher http.Flusher
}

// WriteEvent writes ev as one `data:` record and flushes it. JSON encoding
// never produces a newline, so one line always holds the whole payload.
func (s *sseWriter) WriteEvent(ev api.StreamEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	buf := make([]byte, 0, len(b)+8)
	buf = append(buf, "data:"...)
	buf = append(buf, b...)
	buf = append(buf, '\n', '\n')
	if _, err := s.w.Write(buf); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeJSON writes v as a JSON response with the given status.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error("encode response", slog.Any("error", err))
	}
}

func nonNil(r []api.VectorSearchResult) []api.VectorSearchResult {
	if r == nil {
		return []api.VectorSearchResult{}
	}
	return r
}

func intRef(n int) *int { return &n }
