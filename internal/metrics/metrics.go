package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsTriggeredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_events_triggered_total",
			Help: "Total number of events routed to subscriptions.",
		},
		[]string{"event_type"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_deliveries_total",
			Help: "Total number of delivery attempts by outcome.",
		},
		[]string{"status", "event_type"}, // status: delivered|failed|skipped
	)

	DeliveryLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hookline_delivery_latency_seconds",
			Help:    "Latency of webhook delivery attempts.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms .. ~20s
		},
		[]string{"status"},
	)

	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_retries_total",
			Help: "Total number of delivery retries by reason.",
		},
		[]string{"reason"}, // e.g. http_5xx, timeout, network, other
	)

	DLQTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hookline_dlq_total",
			Help: "Total number of deliveries dead-lettered after exhausting retries.",
		},
		[]string{"reason"},
	)

	WorkerBacklog = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hookline_worker_backlog",
			Help: "Depth of the deliveries channel consumed by workers.",
		},
	)

	QueueTopicDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hookline_queue_topic_depth",
			Help: "Depth of NSQ topics by topic and channel.",
		},
		[]string{"topic", "channel"},
	)
)

func MustRegister(reg *prometheus.Registry) {
	reg.MustRegister(
		EventsTriggeredTotal,
		DeliveriesTotal,
		DeliveryLatency,
		RetriesTotal,
		DLQTotal,
		WorkerBacklog,
		QueueTopicDepth,
	)
}

// RecordEventTriggered counts a routed event.
func RecordEventTriggered(eventType string) {
	EventsTriggeredTotal.WithLabelValues(eventType).Inc()
}

// RecordDelivery counts one delivery attempt outcome and observes its
// latency. Zero latency (e.g. skipped deliveries) is not observed.
func RecordDelivery(status, eventType string, latency time.Duration) {
	DeliveriesTotal.WithLabelValues(status, eventType).Inc()
	if latency > 0 {
		DeliveryLatency.WithLabelValues(status).Observe(latency.Seconds())
	}
}

// RecordRetry counts a scheduled retry by failure reason.
func RecordRetry(reason string) {
	RetriesTotal.WithLabelValues(reason).Inc()
}

// RecordDLQ counts a dead-lettered delivery by final failure reason.
func RecordDLQ(reason string) {
	DLQTotal.WithLabelValues(reason).Inc()
}

// UpdateWorkerBacklog sets the current worker channel depth.
func UpdateWorkerBacklog(depth float64) {
	WorkerBacklog.Set(depth)
}

// UpdateQueueTopicDepth sets the depth gauge for one topic/channel pair.
func UpdateQueueTopicDepth(topic, channel string, depth float64) {
	QueueTopicDepth.WithLabelValues(topic, channel).Set(depth)
}
