package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestInitRegistersMetrics(t *testing.T) {
	Init()
	Init() // idempotent

	if EventsReceived == nil {
		t.Error("EventsReceived not initialized")
	}
	if RepliesSent == nil {
		t.Error("RepliesSent not initialized")
	}
	if GenerationDuration == nil {
		t.Error("GenerationDuration not initialized")
	}
	if DeliveryDuration == nil {
		t.Error("DeliveryDuration not initialized")
	}
}

func TestCountReplyByMode(t *testing.T) {
	Init()
	for _, mode := range []string{"preset", "generated", "manual"} {
		CountReply(mode)
	}
	m := &dto.Metric{}
	if err := RepliesSent.WithLabelValues("preset").Write(m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	if m.Counter.GetValue() < 1 {
		t.Error("preset reply not counted")
	}
}

func TestGaugeSetters(t *testing.T) {
	Init()
	for _, depth := range []int{0, 3, 100} {
		SetQueueDepth(depth)
	}
	for _, state := range []int{0, 1, 2} {
		SetConnectionState(state)
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	Init()

	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})
	prometheus.MustRegister(testHistogram)
	defer prometheus.Unregister(testHistogram)

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || *metric.Histogram.SampleCount == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelationRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := GetCorrelation(ctx); got != "" {
		t.Fatalf("GetCorrelation on empty ctx = %q", got)
	}
	ctx = WithCorrelation(ctx, "corr-1")
	if got := GetCorrelation(ctx); got != "corr-1" {
		t.Fatalf("GetCorrelation = %q, want corr-1", got)
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("LoggerWithCorr returned nil")
	}
}
