package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// labelHandler partitions HTTP metrics by logical route name rather than raw
// URL path.
const labelHandler = "handler"

// serverMetrics holds the Prometheus collectors owned by one Server. Tests
// pass a fresh prometheus.Registry so nothing leaks into the default one.
type serverMetrics struct {
	// chatRequestsTotal counts chat requests by endpoint (stream, generic)
	// and outcome (ok, error, cancelled).
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds is the wall-clock time of a chat turn.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of SSE answers currently being written.
	chatActiveStreams prometheus.Gauge

	// eventsEmittedTotal counts stream events produced, by item type.
	eventsEmittedTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpDurationSeconds *prometheus.HistogramVec
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragchat_server",
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Chat requests completed, by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragchat_server",
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of chat turns from receipt to last event.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"endpoint", "outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragchat_server",
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of chat SSE streams currently open.",
		}),

		eventsEmittedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragchat_server",
			Subsystem: "chat",
			Name:      "events_total",
			Help:      "Stream events produced, by item type.",
		}, []string{"item_type"}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragchat_server",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled, by method, handler and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragchat_server",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// route registers h on mux under pattern, instrumented as handler name.
func (s *Server) route(mux *http.ServeMux, pattern, name string, h http.HandlerFunc) {
	mux.Handle(pattern, s.instrument(name, h))
}

// instrument records request count and latency for h. The count is recorded
// in a defer so aborted streams are counted too.
func (s *Server) instrument(name string, h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw, ok := w.(*responseWriter)
		if !ok {
			rw = &responseWriter{ResponseWriter: w, status: http.StatusOK}
		}
		start := time.Now()
		defer func() {
			s.metrics.httpRequestsTotal.WithLabelValues(r.Method, name, strconv.Itoa(rw.status)).Inc()
			s.metrics.httpDurationSeconds.WithLabelValues(r.Method, name).Observe(time.Since(start).Seconds())
		}()
		h.ServeHTTP(rw, r)
	})
}
