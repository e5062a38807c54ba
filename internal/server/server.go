// Package server implements a development chat backend that speaks the same
// REST/SSE protocol as the production RAG service. It retrieves passages from
// a local corpus, lexically or by embedding similarity, answers with a
// scripted fixture or a hosted or local chat model, and remembers
// conversations in the history store.
// The server is started by the `ragchat serve` CLI command.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/budget"
)

// New constructs a Server from cfg. ctx bounds the startup query that seeds
// conversation id allocation from memory.
func New(ctx context.Context, cfg *Config) (*Server, error) {
	if cfg == nil || cfg.Generator == nil {
		return nil, fmt.Errorf("server: generator must not be nil")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8080"
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// WriteTimeout must be long enough for streaming responses.
		cfg.WriteTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Corpus == nil {
		cfg.Corpus = NewCorpus(nil)
	}
	if cfg.MemoryDepth == 0 {
		cfg.MemoryDepth = 10
	}
	if cfg.MaxContextTokens == 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if cfg.DefaultRAGDocuments == 0 {
		cfg.DefaultRAGDocuments = 5
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:       cfg,
		generator: cfg.Generator,
		corpus:    cfg.Corpus,
		retriever: cfg.Retriever,
		memory:    cfg.Memory,
		log:       cfg.Logger,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	if s.memory != nil {
		last, err := s.memory.MaxConversationID(ctx)
		if err != nil {
			return nil, fmt.Errorf("server: seed conversation ids: %w", err)
		}
		s.lastConversationID.Store(last)
	}

	if cfg.APIKey == "" {
		s.log.Warn("API key not set; /api/v1 endpoints are unauthenticated")
	}

	rl, stopRL := newRateLimiter(cfg.RateLimit, cfg.RateBurst, s.log)
	s.stopRL = stopRL

	// Chat and RAG routes sit behind auth and the per-IP limiter.
	protected := http.NewServeMux()
	s.route(protected, "POST "+api.PathChatStream, "chat_stream", s.handleChatStream)
	s.route(protected, "POST "+api.PathChat, "chat", s.handleChat)
	s.route(protected, "POST "+api.PathVectorSearch, "vector_search", s.handleVectorSearch)
	s.route(protected, "GET "+api.PathDocumentsList, "documents", s.handleDocuments)

	mux := http.NewServeMux()
	s.route(mux, "GET /api/health", "health", s.handleHealth)
	s.route(mux, "GET /api/ready", "ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))
	mux.Handle("/api/v1/", rl.middleware(authMiddleware(cfg.APIKey, protected)))

	s.handler = requestLogger(s.log, mux)
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("ragchat dev backend listening",
			slog.String("addr", "http://"+s.httpServer.Addr),
			slog.String("model", s.generator.Name()),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server stopped")
		return nil
	}
}

// Close stops background work started by New. Start does this itself; tests
// that only use Handler call Close.
func (s *Server) Close() { s.stopRL() }
