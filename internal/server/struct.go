package server

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/ragchat-go/internal/history"
	"github.com/54b3r/ragchat-go/internal/streamchat"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Addr is the listen address (default: 127.0.0.1:8080).
	Addr string
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. It
	// bounds the length of a streamed answer.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// Defaults to slog.Default.
	Logger *slog.Logger
	// Generator produces answers. Required.
	Generator Generator
	// Corpus serves retrieval and the document list. Defaults to an empty
	// corpus.
	Corpus *Corpus
	// Retriever replaces the corpus's lexical search, e.g. with a
	// SemanticRetriever. Optional.
	Retriever Retriever
	// Memory persists finalized turns and supplies earlier turns of a
	// conversation to the generator. Optional.
	Memory Memory
	// MemoryDepth is how many earlier turns are offered to the generator
	// (default: 10).
	MemoryDepth int
	// MaxContextTokens bounds the prompt after memory is added
	// (default: budget.DefaultMaxContextTokens).
	MaxContextTokens int
	// DefaultRAGDocuments applies when a request omits
	// numberOfRagDocumentsToInclude (default: 5).
	DefaultRAGDocuments int
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on /api/*
	// (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /api/* except health probes.
	// If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// Memory is the conversation store the server reads earlier turns from and
// appends finalized turns to. *history.Store implements it.
type Memory interface {
	Recent(ctx context.Context, conversationID int64, n int) ([]history.Record, error)
	Append(ctx context.Context, turn *streamchat.ConversationTurn) error
	MaxConversationID(ctx context.Context) (int64, error)
}

// Server is the development chat backend.
type Server struct {
	// cfg holds the resolved server configuration.
	cfg *Config
	// generator produces answers.
	generator Generator
	// corpus serves retrieval.
	corpus *Corpus
	// retriever is optional; nil means lexical corpus search.
	retriever Retriever
	// memory is optional.
	memory Memory
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// handler is the fully wrapped mux, exposed for tests via Handler.
	handler http.Handler
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors.
	metrics *serverMetrics
	// lastConversationID is the most recently allocated conversation id.
	lastConversationID atomic.Int64
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}
