package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/ragchat-go/internal/api"
	"github.com/54b3r/ragchat-go/internal/config"
	"github.com/54b3r/ragchat-go/internal/history"
	"github.com/54b3r/ragchat-go/internal/streamchat"
)

// newClient builds the backend client from the resolved settings.
func newClient(s *config.Settings) (*api.Client, error) {
	c, err := api.NewClient(&api.Config{
		BaseURL:   s.BaseURL,
		APIKey:    s.APIKey,
		RateLimit: s.RateLimit,
		RateBurst: s.RateBurst,
	})
	if err != nil {
		return nil, fmt.Errorf("client: %w", err)
	}
	return c, nil
}

// openHistory opens the local history store. A disabled or unopenable store
// is reported and yields nil: history is a convenience, never a reason to
// refuse to chat.
func openHistory(s *config.Settings, log *slog.Logger) (*history.Store, func()) {
	if s.HistoryDB == "" {
		log.Debug("history: disabled")
		return nil, func() {}
	}
	st, err := history.Open(s.HistoryDB)
	if err != nil {
		log.Warn("history: failed to open store, disabling", slog.String("path", s.HistoryDB), slog.Any("error", err))
		return nil, func() {}
	}
	log.Debug("history: store opened", slog.String("path", s.HistoryDB))
	return st, func() { _ = st.Close() }
}

// newSession wires client, metrics and history into a chat session.
func newSession(s *config.Settings, c *api.Client, m *streamchat.Metrics, store *history.Store, conversationID int64, docIDs []int64, log *slog.Logger) (*streamchat.Session, error) {
	st, err := streamchat.NewStreamer(streamchat.Config{Client: c, Logger: log, Metrics: m})
	if err != nil {
		return nil, err
	}
	cfg := streamchat.SessionConfig{
		SystemPrompt:   s.SystemPrompt,
		RAGDocuments:   s.RAGDocuments,
		DocumentIDs:    docIDs,
		ConversationID: conversationID,
		Logger:         log,
	}
	// A typed nil store must not become a non-nil interface.
	if store != nil {
		cfg.Recorder = store
	}
	return streamchat.NewSession(st, cfg), nil
}

// startMetrics serves the client's Prometheus registry on addr when addr is
// set. The returned function shuts the listener down.
func startMetrics(addr string, reg *prometheus.Registry, log *slog.Logger) func() {
	if addr == "" {
		return func() {}
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn("metrics: listener stopped", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
	log.Info("metrics: serving", slog.String("addr", "http://"+addr+"/metrics"))

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// sourceList renders the distinct source names of docs.
func sourceList(docs []api.VectorSearchResult) string {
	var names []string
	seen := make(map[string]bool)
	for _, d := range docs {
		name, _ := d.Metadata["sourceName"].(string)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return strings.Join(names, ", ")
}

// printTurnFooter writes the sources and usage line of a finished turn.
func printTurnFooter(w io.Writer, t *streamchat.ConversationTurn) {
	if src := sourceList(t.VectorSearchResults); src != "" {
		fmt.Fprintf(w, "sources: %s\n", src)
	}
	line := fmt.Sprintf("model %s · conversation %d · %s", t.Model, t.ConversationID, t.Duration().Round(time.Millisecond))
	if u := t.TokenUsage; u != nil && u.Total != nil {
		line += fmt.Sprintf(" · %d tokens", *u.Total)
	}
	fmt.Fprintln(w, line)
}

// truncate shortens s to n runes for table output.
func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
