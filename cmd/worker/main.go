package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/db"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/health"
	"github.com/hookline/hookline/internal/ledger"
	"github.com/hookline/hookline/internal/logging"
	"github.com/hookline/hookline/internal/metrics"
	"github.com/hookline/hookline/internal/queue"
	"github.com/hookline/hookline/internal/retry"
	"github.com/hookline/hookline/internal/subscription"
	"github.com/hookline/hookline/internal/tracing"
	"github.com/hookline/hookline/internal/worker"
)

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookline-worker")

	shutdown, err := tracing.Init(ctx, "hookline-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("tracing init failed")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN(), int32(cfg.Worker.MaxConnections))
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Worker.HTTPPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	publisher, err := queue.NewNSQPublisher(cfg.NSQ.NsqdTCPAddr)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer publisher.Stop()

	dispatcher := dispatch.New(dispatch.Options{
		UserAgent:      cfg.Dispatch.UserAgent,
		MaxRedirects:   cfg.Dispatch.MaxRedirects,
		DefaultTimeout: cfg.Dispatch.DefaultTimeout,
		MaxConnections: cfg.Worker.MaxConnections,
	})
	scheduler := retry.NewScheduler(cfg.Worker.MaxBackoff, cfg.Worker.JitterPercent)

	handler := worker.NewHandler(
		subscription.NewPgRegistry(pool),
		ledger.NewPgStore(pool),
		dispatcher,
		publisher,
		scheduler,
		worker.Options{
			DeliveriesTopic: cfg.NSQ.DeliveriesTopic,
			DLQTopic:        cfg.NSQ.DLQTopic,
			PublishDLQ:      cfg.Worker.PublishDLQ,
		},
		logger,
	)

	conf := nsq.NewConfig()
	conf.MaxInFlight = cfg.Worker.MaxInFlight
	consumer, err := nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}
	consumer.AddHandler(handler)

	startBacklogMonitor(cfg)

	// Connecting directly to nsqd forces channel creation instead of the
	// channel being lazily created on first publish.
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().Info("worker started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker")
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker stopped")
}

// startBacklogMonitor polls nsqd stats and exports queue depth gauges.
func startBacklogMonitor(cfg config.Config) {
	go func() {
		logger := logging.New("hookline-worker-monitor")
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()

		httpClient := &http.Client{Timeout: 5 * time.Second}

		for range ticker.C {
			resp, err := httpClient.Get(fmt.Sprintf("http://%s/stats?format=json", cfg.NSQ.NsqdHTTPAddr))
			if err != nil {
				logger.Plain().WithError(err).Error("nsqd stats fetch failed")
				continue
			}

			var stats struct {
				Topics []struct {
					Name     string `json:"topic_name"`
					Channels []struct {
						Name  string `json:"channel_name"`
						Depth int64  `json:"depth"`
					} `json:"channels"`
				} `json:"topics"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				resp.Body.Close()
				logger.Plain().WithError(err).Error("nsqd stats decode failed")
				continue
			}
			resp.Body.Close()

			for _, topic := range stats.Topics {
				for _, channel := range topic.Channels {
					metrics.UpdateQueueTopicDepth(topic.Name, channel.Name, float64(channel.Depth))
					if topic.Name == cfg.NSQ.DeliveriesTopic && channel.Name == cfg.NSQ.WorkerChannel {
						metrics.UpdateWorkerBacklog(float64(channel.Depth))
					}
				}
			}
		}
	}()
}
