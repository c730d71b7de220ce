package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMustRegister(t *testing.T) {
	reg := prometheus.NewRegistry()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("MustRegister() panicked: %v", r)
		}
	}()
	MustRegister(reg)

	// Record some values so metrics appear in Gather()
	RecordEventTriggered("user.created")
	RecordDelivery("delivered", "user.created", 100*time.Millisecond)
	RecordRetry("timeout")
	RecordDLQ("http_5xx")
	UpdateWorkerBacklog(5)
	UpdateQueueTopicDepth("deliveries", "workers", 3)

	metricFamilies, err := reg.Gather()
	if err != nil {
		t.Fatalf("Registry.Gather() error: %v", err)
	}

	expected := []string{
		"hookline_events_triggered_total",
		"hookline_deliveries_total",
		"hookline_delivery_latency_seconds",
		"hookline_retries_total",
		"hookline_dlq_total",
		"hookline_worker_backlog",
		"hookline_queue_topic_depth",
	}

	registered := make(map[string]bool)
	for _, mf := range metricFamilies {
		registered[mf.GetName()] = true
	}
	for _, name := range expected {
		if !registered[name] {
			t.Errorf("expected metric %s not found in registry", name)
		}
	}
}

func TestRecordDelivery(t *testing.T) {
	DeliveriesTotal.Reset()

	tests := []struct {
		name      string
		status    string
		eventType string
		calls     int
	}{
		{"single delivered", "delivered", "user.created", 1},
		{"multiple failed", "failed", "task.completed", 3},
		{"skipped inactive", "skipped", "user.created", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.calls; i++ {
				RecordDelivery(tt.status, tt.eventType, 50*time.Millisecond)
			}
			got := testutil.ToFloat64(DeliveriesTotal.WithLabelValues(tt.status, tt.eventType))
			if got != float64(tt.calls) {
				t.Errorf("counter = %v, want %v", got, tt.calls)
			}
		})
	}
}

func TestRecordRetryAndDLQ(t *testing.T) {
	RetriesTotal.Reset()
	DLQTotal.Reset()

	RecordRetry("http_5xx")
	RecordRetry("http_5xx")
	RecordRetry("timeout")
	RecordDLQ("timeout")

	if got := testutil.ToFloat64(RetriesTotal.WithLabelValues("http_5xx")); got != 2 {
		t.Errorf("retries http_5xx = %v, want 2", got)
	}
	if got := testutil.ToFloat64(RetriesTotal.WithLabelValues("timeout")); got != 1 {
		t.Errorf("retries timeout = %v, want 1", got)
	}
	if got := testutil.ToFloat64(DLQTotal.WithLabelValues("timeout")); got != 1 {
		t.Errorf("dlq timeout = %v, want 1", got)
	}
}

func TestGauges(t *testing.T) {
	UpdateWorkerBacklog(42)
	if got := testutil.ToFloat64(WorkerBacklog); got != 42 {
		t.Errorf("worker backlog = %v, want 42", got)
	}

	UpdateQueueTopicDepth("deliveries", "workers", 7)
	if got := testutil.ToFloat64(QueueTopicDepth.WithLabelValues("deliveries", "workers")); got != 7 {
		t.Errorf("topic depth = %v, want 7", got)
	}
}
