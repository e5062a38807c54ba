package streamchat

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/ragchat-go/internal/api"
)

// Metrics holds the Prometheus collectors for client-side streams. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// streamsTotal counts finished streams by outcome.
	streamsTotal *prometheus.CounterVec
	// durationSeconds records stream wall-clock time by outcome.
	durationSeconds *prometheus.HistogramVec
	// eventsTotal counts decoded events by item type.
	eventsTotal *prometheus.CounterVec
	// malformedTotal counts payloads skipped by the decoder.
	malformedTotal prometheus.Counter
	// activeStreams is the number of streams currently reading.
	activeStreams prometheus.Gauge
}

// NewMetrics registers the stream collectors against reg. Use a fresh
// prometheus.Registry in tests to keep them hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		streamsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "stream",
			Name:      "streams_total",
			Help:      "Chat streams finished, partitioned by outcome.",
		}, []string{"outcome"}),

		durationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragchat",
			Subsystem: "stream",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of chat streams from request to final byte.",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "stream",
			Name:      "events_total",
			Help:      "Stream events decoded, partitioned by item type.",
		}, []string{"item_type"}),

		malformedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragchat",
			Subsystem: "stream",
			Name:      "malformed_events_total",
			Help:      "data: payloads that failed to parse and were skipped.",
		}),

		activeStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ragchat",
			Subsystem: "stream",
			Name:      "active_streams",
			Help:      "Number of chat streams currently being read.",
		}),
	}
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.activeStreams.Inc()
}

func (m *Metrics) finished(outcome State, d time.Duration) {
	if m == nil {
		return
	}
	m.activeStreams.Dec()
	m.observe(outcome, d)
}

// observe records an outcome without touching the active gauge; used for
// streams that failed before reading began.
func (m *Metrics) observe(outcome State, d time.Duration) {
	if m == nil {
		return
	}
	m.streamsTotal.WithLabelValues(outcome.String()).Inc()
	m.durationSeconds.WithLabelValues(outcome.String()).Observe(d.Seconds())
}

func (m *Metrics) event(t api.ItemType) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) malformed() {
	if m == nil {
		return
	}
	m.malformedTotal.Inc()
}
