package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nsqio/go-nsq"
	"go.opentelemetry.io/otel/attribute"

	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/ledger"
	"github.com/hookline/hookline/internal/logging"
	"github.com/hookline/hookline/internal/metrics"
	"github.com/hookline/hookline/internal/queue"
	"github.com/hookline/hookline/internal/retry"
	"github.com/hookline/hookline/internal/subscription"
	"github.com/hookline/hookline/internal/tracing"
)

// Options configures a delivery handler.
type Options struct {
	DeliveriesTopic string
	DLQTopic        string
	// PublishDLQ controls whether exhausted deliveries go to the DLQ topic
	// in addition to being counted.
	PublishDLQ bool
}

// Handler consumes dispatch tasks from the queue, performs the HTTP
// attempt, records it in the ledger, and either finishes, schedules a
// retry, or dead-letters the delivery.
type Handler struct {
	registry   subscription.Registry
	store      ledger.Store
	dispatcher *dispatch.Dispatcher
	publisher  queue.Publisher
	scheduler  *retry.Scheduler
	opts       Options
	logger     *logging.Logger
}

func NewHandler(
	registry subscription.Registry,
	store ledger.Store,
	dispatcher *dispatch.Dispatcher,
	publisher queue.Publisher,
	scheduler *retry.Scheduler,
	opts Options,
	logger *logging.Logger,
) *Handler {
	if logger == nil {
		logger = logging.New("hookline-worker")
	}
	return &Handler{
		registry:   registry,
		store:      store,
		dispatcher: dispatcher,
		publisher:  publisher,
		scheduler:  scheduler,
		opts:       opts,
		logger:     logger,
	}
}

// HandleMessage implements nsq.Handler. A nil return finishes the message;
// a non-nil return lets NSQ requeue it, which is reserved for transient
// infrastructure failures where re-processing the same task is safe.
// Delivery-level retries are never driven by NSQ requeue: the handler
// schedules them itself via deferred publish with an incremented attempt.
func (h *Handler) HandleMessage(m *nsq.Message) error {
	var t queue.Task
	if err := json.Unmarshal(m.Body, &t); err != nil {
		h.logger.Plain().WithError(err).Error("undecodable task, dropping")
		return nil
	}
	if err := t.Validate(); err != nil {
		h.logger.Plain().WithError(err).Error("invalid task, dropping")
		return nil
	}
	return h.HandleTask(context.Background(), t)
}

// HandleTask runs one delivery attempt end to end. The returned error
// carries the same requeue semantics as HandleMessage.
func (h *Handler) HandleTask(ctx context.Context, t queue.Task) error {
	ctx = tracing.ExtractTask(ctx, t.TraceHeaders)
	ctx, span := tracing.StartSpan(ctx, "worker.delivery",
		attribute.String("subscription_id", t.SubscriptionID),
		attribute.String("event_id", t.Payload.EventID),
		attribute.String("event_type", t.Payload.EventType),
		attribute.Int("attempt", t.Attempt),
	)
	defer span.End()

	log := h.logger.WithContext(ctx).
		WithSubscription(t.SubscriptionID).
		WithEvent(t.Payload.EventID, t.Payload.EventType).
		WithField("attempt", t.Attempt)

	sub, err := h.registry.Get(ctx, t.SubscriptionID)
	if err != nil {
		if errors.Is(err, subscription.ErrNotFound) {
			// Deleted after enqueue. Nothing to deliver to, ever.
			log.Warn("subscription no longer exists, dropping delivery")
			metrics.RecordDelivery("dropped", t.Payload.EventType, 0)
			return nil
		}
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("subscription lookup failed")
		return err
	}
	if !sub.Active {
		log.Info("subscription inactive, skipping delivery")
		metrics.RecordDelivery("skipped", t.Payload.EventType, 0)
		span.SetAttributes(attribute.String("delivery.final_status", "skipped"))
		return nil
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	attempt, reason, err := h.dispatcher.Deliver(ctx, sub, t.Payload, t.Attempt)
	if err != nil {
		// Config or programming problem. The same task would fail the same
		// way on every redelivery, so drop it rather than requeue.
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("delivery not attemptable, dropping")
		metrics.RecordDelivery("dropped", t.Payload.EventType, 0)
		return nil
	}

	status := 0
	if attempt.StatusCode != nil {
		status = *attempt.StatusCode
	}
	latency := time.Duration(attempt.DurationMS) * time.Millisecond
	span.SetAttributes(
		attribute.Int("http.status_code", status),
		attribute.Int64("http.latency_ms", attempt.DurationMS),
	)

	willRetry := !attempt.Success && retry.ShouldRetry(t.Attempt, sub.MaxRetries)
	if willRetry {
		attempt.WillRetry = true
		nra := retry.NextRetryAt(time.Now().UTC(), t.Attempt, sub.BackoffBase())
		attempt.NextRetryAt = &nra
	}

	tracing.AddSpanEvent(ctx, "db.record_attempt")
	if err := h.store.Record(ctx, attempt); err != nil {
		// The HTTP attempt already happened; requeueing would re-send it.
		// Losing one ledger row is the lesser failure.
		tracing.SetSpanError(ctx, err)
		log.WithError(err).Error("ledger record failed")
	}

	if attempt.Success {
		tracing.AddSpanEvent(ctx, "delivery.success")
		span.SetAttributes(attribute.String("delivery.final_status", "delivered"))
		log.WithField("status_code", status).Info("delivered")
		metrics.RecordDelivery("delivered", t.Payload.EventType, latency)
		return nil
	}

	span.SetAttributes(attribute.String("failure_reason", reason))
	metrics.RecordDelivery("failed", t.Payload.EventType, latency)

	if willRetry {
		delay := h.scheduler.Delay(t.Attempt, sub.BackoffBase())
		next := t
		next.Attempt = t.Attempt + 1
		next.PublishedAt = time.Now().UTC().Format(time.RFC3339)
		next.TraceHeaders = tracing.InjectTask(ctx)

		tracing.AddSpanEvent(ctx, "delivery.requeue",
			attribute.Int("next_attempt", next.Attempt),
			attribute.String("delay", delay.String()),
		)
		if err := h.publisher.DeferTask(h.opts.DeliveriesTopic, delay, next); err != nil {
			// Let NSQ redeliver the original message so the retry is not lost.
			tracing.SetSpanError(ctx, err)
			log.WithError(err).Error("retry enqueue failed")
			return err
		}
		span.SetAttributes(attribute.String("delivery.final_status", "requeued"))
		log.WithFields(map[string]any{
			"reason": reason,
			"delay":  delay.String(),
		}).Info("delivery failed, retry scheduled")
		metrics.RecordRetry(reason)
		return nil
	}

	// Exhausted.
	tracing.AddSpanEvent(ctx, "delivery.dlq", attribute.Int("attempt", t.Attempt))
	span.SetAttributes(attribute.String("delivery.final_status", "dead"))
	log.WithFields(map[string]any{
		"reason":      reason,
		"status_code": status,
	}).Error("delivery exhausted all retries")
	metrics.RecordDLQ(reason)

	if h.opts.PublishDLQ {
		env := queue.NewDeadLetter(t, t.Attempt, status, attempt.ErrorMessage,
			fmt.Sprintf("max retries reached (%d)", sub.MaxRetries))
		if err := h.publisher.PublishDeadLetter(h.opts.DLQTopic, env); err != nil {
			tracing.SetSpanError(ctx, err)
			log.WithError(err).Error("dlq publish failed")
		} else {
			log.WithField("topic", h.opts.DLQTopic).Info("dlq published")
		}
	}
	return nil
}
