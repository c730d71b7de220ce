package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// nsq-monitor is a standalone sidecar exporting queue depth metrics for
// dashboards and alerting, independent of any worker process.

// nsqStats represents the JSON structure returned by the nsqd stats API
type nsqStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
		Depth int64 `json:"depth"`
	} `json:"topics"`
}

// monitorCfg pins the topic and channel names the backlog gauges track.
type monitorCfg struct {
	deliveriesTopic string
	dlqTopic        string
	workerChannel   string
}

var (
	// Pending deliveries waiting for a worker.
	queueBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hookline_queue_backlog",
		Help: "Number of delivery tasks waiting in the deliveries queue",
	})

	// Dead-lettered deliveries sitting unconsumed on the DLQ topic.
	dlqBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hookline_dlq_backlog",
		Help: "Number of dead-lettered deliveries on the DLQ topic",
	})

	channelDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hookline_nsq_channel_depth",
		Help: "Depth of NSQ channels by topic and channel",
	}, []string{"topic", "channel"})

	channelInflight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hookline_nsq_channel_inflight",
		Help: "In-flight messages for NSQ channels by topic and channel",
	}, []string{"topic", "channel"})
)

func init() {
	prometheus.MustRegister(queueBacklog)
	prometheus.MustRegister(dlqBacklog)
	prometheus.MustRegister(channelDepth)
	prometheus.MustRegister(channelInflight)
}

func main() {
	nsqdHost := getEnv("NSQD_HOST", "nsqd:4151")
	port := getEnv("PORT", "8084")
	interval := getEnvInt("POLL_INTERVAL_SECONDS", 15)
	cfg := monitorCfg{
		deliveriesTopic: getEnv("DELIVERIES_TOPIC", "deliveries"),
		dlqTopic:        getEnv("DLQ_TOPIC", "deliveries_dlq"),
		workerChannel:   getEnv("WORKER_CHANNEL", "workers"),
	}

	log.Printf("nsq-monitor starting on port %s", port)
	log.Printf("monitoring NSQ at %s every %d seconds", nsqdHost, interval)

	go collectMetrics(nsqdHost, cfg, time.Duration(interval)*time.Second)

	http.Handle("/metrics", promhttp.Handler())
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	log.Fatal(http.ListenAndServe(":"+port, nil))
}

func collectMetrics(nsqdHost string, cfg monitorCfg, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for range ticker.C {
		if err := updateMetrics(nsqdHost, cfg); err != nil {
			log.Printf("error updating metrics: %v", err)
		}
	}
}

func updateMetrics(nsqdHost string, cfg monitorCfg) error {
	resp, err := http.Get(fmt.Sprintf("http://%s/stats?format=json", nsqdHost))
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()

	var stats nsqStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}

	for _, topic := range stats.Topics {
		switch topic.TopicName {
		case cfg.deliveriesTopic:
			for _, channel := range topic.Channels {
				if channel.ChannelName == cfg.workerChannel {
					queueBacklog.Set(float64(channel.Depth))
				}
				channelDepth.WithLabelValues(topic.TopicName, channel.ChannelName).Set(float64(channel.Depth))
				channelInflight.WithLabelValues(topic.TopicName, channel.ChannelName).Set(float64(channel.InFlightCount))
			}
		case cfg.dlqTopic:
			// The DLQ typically has no consumer, so the topic-level depth is
			// the meaningful number.
			dlqBacklog.Set(float64(topic.Depth))
			for _, channel := range topic.Channels {
				channelDepth.WithLabelValues(topic.TopicName, channel.ChannelName).Set(float64(channel.Depth))
				channelInflight.WithLabelValues(topic.TopicName, channel.ChannelName).Set(float64(channel.InFlightCount))
			}
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
