package router

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/hookline/hookline/internal/event"
	"github.com/hookline/hookline/internal/logging"
	"github.com/hookline/hookline/internal/metrics"
	"github.com/hookline/hookline/internal/queue"
	"github.com/hookline/hookline/internal/subscription"
	"github.com/hookline/hookline/internal/tracing"
)

// Router fans an application event out to all matching subscriptions by
// enqueueing one dispatch task per match. It performs no HTTP calls and
// no ledger writes itself.
type Router struct {
	registry  subscription.Registry
	publisher queue.Publisher
	topic     string
	source    string
	logger    *logging.Logger
}

func New(registry subscription.Registry, publisher queue.Publisher, topic, source string, logger *logging.Logger) *Router {
	if logger == nil {
		logger = logging.New("hookline-router")
	}
	return &Router{
		registry:  registry,
		publisher: publisher,
		topic:     topic,
		source:    source,
		logger:    logger,
	}
}

// Trigger routes one logical event: finds active subscriptions listening
// to eventType, drops those whose filters reject the data, and enqueues a
// first-attempt dispatch task per survivor. All matches share one payload
// (same event_id and timestamp). The returned count is the number of
// subscriptions actually notified.
//
// Only registry failures surface as errors. A bad subscription (invalid
// URL, publish failure) is logged and skipped so it can never block
// delivery to the other matches, and never fails the calling business
// operation.
func (r *Router) Trigger(ctx context.Context, eventType string, data map[string]any) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "router.trigger",
		attribute.String("event_type", eventType),
	)
	defer span.End()

	subs, err := r.registry.FindActiveForEvent(ctx, eventType)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return 0, fmt.Errorf("find subscriptions for %q: %w", eventType, err)
	}
	if len(subs) == 0 {
		r.logger.WithContext(ctx).WithField("event_type", eventType).Debug("no subscriptions for event")
		return 0, nil
	}

	payload := event.NewPayload(eventType, data, r.source)
	span.SetAttributes(
		attribute.String("event_id", payload.EventID),
		attribute.Int("candidates", len(subs)),
	)

	traceHeaders := tracing.InjectTask(ctx)
	publishedAt := time.Now().UTC().Format(time.RFC3339)

	notified := 0
	for i := range subs {
		sub := &subs[i]
		if !sub.MatchesFilters(data) {
			r.logger.WithContext(ctx).
				WithSubscription(sub.ID).
				WithEvent(payload.EventID, eventType).
				Debug("event filtered out by subscription filters")
			continue
		}
		if _, err := url.ParseRequestURI(sub.URL); err != nil {
			r.logger.WithContext(ctx).
				WithSubscription(sub.ID).
				WithEvent(payload.EventID, eventType).
				WithError(err).
				Error("skipping subscription with invalid URL")
			continue
		}

		task := queue.Task{
			SubscriptionID: sub.ID,
			Payload:        payload,
			Attempt:        1,
			PublishedAt:    publishedAt,
			TraceHeaders:   traceHeaders,
		}
		if err := r.publisher.PublishTask(r.topic, task); err != nil {
			tracing.SetSpanError(ctx, err)
			r.logger.WithContext(ctx).
				WithSubscription(sub.ID).
				WithEvent(payload.EventID, eventType).
				WithError(err).
				Error("enqueue dispatch task failed")
			continue
		}
		notified++
	}

	metrics.RecordEventTriggered(eventType)
	span.SetAttributes(attribute.Int("notified", notified))
	r.logger.WithContext(ctx).
		WithEvent(payload.EventID, eventType).
		WithField("notified", notified).
		Info("event routed")

	return notified, nil
}
