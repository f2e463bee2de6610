// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	EventsReceived   prometheus.Counter
	EventsUnknown    prometheus.Counter
	RepliesSent      *prometheus.CounterVec // labeled by mode: preset|generated|manual
	GenerationFailed prometheus.Counter
	DeliveryRetries  prometheus.Counter
	DeliveryDropped  prometheus.Counter
	Reconnects       prometheus.Counter
	EventsFiltered   prometheus.Counter

	// Histograms (seconds)
	GenerationDuration prometheus.Observer
	DeliveryDuration   prometheus.Observer

	// Gauges
	QueueDepthGauge      prometheus.Gauge
	ConnectionStateGauge prometheus.Gauge // 2=ok,1=stale,0=dead
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		EventsReceived = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_received_total", Help: "Number of chat events received from the stream"})
		EventsUnknown = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_unknown_total", Help: "Number of frames that could not be classified"})
		RepliesSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "chat_replies_sent_total", Help: "Number of replies delivered, by mode"}, []string{"mode"})
		GenerationFailed = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_generation_failed_total", Help: "Number of reply generation failures"})
		DeliveryRetries = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_delivery_retries_total", Help: "Number of delivery retry attempts"})
		DeliveryDropped = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_delivery_dropped_total", Help: "Number of replies dropped after exhausting retries"})
		Reconnects = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_feed_reconnects_total", Help: "Number of successful feed reconnects"})
		EventsFiltered = promauto.NewCounter(prometheus.CounterOpts{Name: "chat_events_filtered_total", Help: "Number of events suppressed by the user filter"})
		GenerationDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_generation_duration_seconds", Help: "Reply generation duration seconds", Buckets: prometheus.DefBuckets})
		DeliveryDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "chat_delivery_duration_seconds", Help: "Queue-to-send latency seconds", Buckets: prometheus.DefBuckets})
		QueueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_delivery_queue_depth", Help: "Current number of queued outbound replies"})
		ConnectionStateGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "chat_feed_connection_state", Help: "Feed connection state ok=2 stale=1 dead=0"})
	})
}

// CountReply increments the sent counter for mode if metrics are initialized.
func CountReply(mode string) {
	if RepliesSent != nil {
		RepliesSent.WithLabelValues(mode).Inc()
	}
}

// SetQueueDepth records the current outbound queue length.
func SetQueueDepth(n int) {
	if QueueDepthGauge != nil {
		QueueDepthGauge.Set(float64(n))
	}
}

// SetConnectionState records the current feed health (ok=2 stale=1 dead=0).
func SetConnectionState(v int) {
	if ConnectionStateGauge != nil {
		ConnectionStateGauge.Set(float64(v))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding correlation id (if absent) and the id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
