package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"

	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/event"
	"github.com/hookline/hookline/internal/ledger"
	"github.com/hookline/hookline/internal/logging"
	"github.com/hookline/hookline/internal/queue"
	"github.com/hookline/hookline/internal/retry"
	"github.com/hookline/hookline/internal/subscription"
)

type fakeRegistry struct {
	subs map[string]*subscription.Subscription
	err  error
}

func (f *fakeRegistry) FindActiveForEvent(ctx context.Context, eventType string) ([]subscription.Subscription, error) {
	return nil, nil
}

func (f *fakeRegistry) Get(ctx context.Context, id string) (*subscription.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.subs[id]; ok {
		return s, nil
	}
	return nil, subscription.ErrNotFound
}

func (f *fakeRegistry) IncrementCounters(ctx context.Context, id string, success bool, at time.Time) error {
	return nil
}

type fakeStore struct {
	recorded []ledger.Attempt
	err      error
}

func (f *fakeStore) Record(ctx context.Context, a *ledger.Attempt) error {
	if f.err != nil {
		return f.err
	}
	f.recorded = append(f.recorded, *a)
	return nil
}

func (f *fakeStore) List(ctx context.Context, fl ledger.Filter) ([]ledger.Attempt, error) {
	return f.recorded, nil
}

type fakePublisher struct {
	deferred    []queue.Task
	delays      []time.Duration
	deadLetters []queue.DeadLetter
	deferErr    error
}

func (f *fakePublisher) PublishTask(topic string, t queue.Task) error { return nil }

func (f *fakePublisher) DeferTask(topic string, delay time.Duration, t queue.Task) error {
	if f.deferErr != nil {
		return f.deferErr
	}
	f.deferred = append(f.deferred, t)
	f.delays = append(f.delays, delay)
	return nil
}

func (f *fakePublisher) PublishDeadLetter(topic string, d queue.DeadLetter) error {
	f.deadLetters = append(f.deadLetters, d)
	return nil
}

type fixture struct {
	handler  *Handler
	registry *fakeRegistry
	store    *fakeStore
	pub      *fakePublisher
}

func newFixture(subs ...*subscription.Subscription) *fixture {
	reg := &fakeRegistry{subs: map[string]*subscription.Subscription{}}
	for _, s := range subs {
		reg.subs[s.ID] = s
	}
	store := &fakeStore{}
	pub := &fakePublisher{}
	h := NewHandler(
		reg,
		store,
		dispatch.New(dispatch.Options{DefaultTimeout: 2 * time.Second}),
		pub,
		retry.NewScheduler(time.Hour, 0.25),
		Options{DeliveriesTopic: "deliveries", DLQTopic: "deliveries_dlq", PublishDLQ: true},
		logging.NewWithWriter("test", io.Discard),
	)
	return &fixture{handler: h, registry: reg, store: store, pub: pub}
}

func testSub(id, url string) *subscription.Subscription {
	return &subscription.Subscription{
		ID:           id,
		Name:         id,
		URL:          url,
		Events:       []string{"order.created"},
		Secret:       []byte("s3cret"),
		Active:       true,
		MaxRetries:   3,
		RetryBackoff: 1,
	}
}

func testTask(subID string, attempt int) queue.Task {
	return queue.Task{
		SubscriptionID: subID,
		Payload:        event.NewPayload("order.created", map[string]any{"order_id": 1}, "test"),
		Attempt:        attempt,
		PublishedAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

func TestHandleTaskSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	fx := newFixture(testSub("sub-1", srv.URL))
	if err := fx.handler.HandleTask(context.Background(), testTask("sub-1", 1)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	if len(fx.store.recorded) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(fx.store.recorded))
	}
	a := fx.store.recorded[0]
	if !a.Success {
		t.Errorf("attempt success = false: %s", a.ErrorMessage)
	}
	if a.WillRetry || a.NextRetryAt != nil {
		t.Error("successful attempt should not schedule a retry")
	}
	if len(fx.pub.deferred) != 0 || len(fx.pub.deadLetters) != 0 {
		t.Errorf("success should not publish: %d deferred, %d dead", len(fx.pub.deferred), len(fx.pub.deadLetters))
	}
}

func TestHandleTaskFailureSchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	fx := newFixture(testSub("sub-1", srv.URL))
	if err := fx.handler.HandleTask(context.Background(), testTask("sub-1", 1)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	if len(fx.store.recorded) != 1 {
		t.Fatalf("recorded %d attempts, want 1", len(fx.store.recorded))
	}
	a := fx.store.recorded[0]
	if a.Success {
		t.Error("attempt success = true for 500 response")
	}
	if !a.WillRetry {
		t.Error("WillRetry = false, want true")
	}
	if a.NextRetryAt == nil {
		t.Fatal("NextRetryAt is nil")
	}
	if !a.NextRetryAt.After(a.CreatedAt) {
		t.Errorf("NextRetryAt %v not after CreatedAt %v", a.NextRetryAt, a.CreatedAt)
	}

	if len(fx.pub.deferred) != 1 {
		t.Fatalf("deferred %d tasks, want 1", len(fx.pub.deferred))
	}
	next := fx.pub.deferred[0]
	if next.Attempt != 2 {
		t.Errorf("next attempt = %d, want 2", next.Attempt)
	}
	if next.Payload.EventID != fx.store.recorded[0].EventID {
		t.Error("retry task lost the original payload")
	}
	if fx.pub.delays[0] <= 0 {
		t.Errorf("defer delay = %v, want > 0", fx.pub.delays[0])
	}
	if len(fx.pub.deadLetters) != 0 {
		t.Errorf("dead letters = %d, want 0", len(fx.pub.deadLetters))
	}
}

func TestHandleTaskExhaustedGoesToDLQ(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	sub := testSub("sub-1", srv.URL)
	fx := newFixture(sub)
	// Final attempt: attempt number equals the retry cap.
	if err := fx.handler.HandleTask(context.Background(), testTask("sub-1", sub.MaxRetries)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}

	a := fx.store.recorded[0]
	if a.WillRetry || a.NextRetryAt != nil {
		t.Error("exhausted attempt should be terminal")
	}
	if len(fx.pub.deferred) != 0 {
		t.Errorf("deferred %d tasks, want 0", len(fx.pub.deferred))
	}
	if len(fx.pub.deadLetters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(fx.pub.deadLetters))
	}
	d := fx.pub.deadLetters[0]
	if d.Task.SubscriptionID != "sub-1" {
		t.Errorf("dead letter subscription = %q", d.Task.SubscriptionID)
	}
}

func TestHandleTaskMissingSubscriptionIsTerminal(t *testing.T) {
	fx := newFixture()
	if err := fx.handler.HandleTask(context.Background(), testTask("ghost", 1)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	if len(fx.store.recorded) != 0 || len(fx.pub.deferred) != 0 || len(fx.pub.deadLetters) != 0 {
		t.Error("missing subscription should produce no writes or publishes")
	}
}

func TestHandleTaskInactiveSubscriptionSkips(t *testing.T) {
	hit := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
	}))
	defer srv.Close()

	sub := testSub("sub-1", srv.URL)
	sub.Active = false
	fx := newFixture(sub)
	if err := fx.handler.HandleTask(context.Background(), testTask("sub-1", 1)); err != nil {
		t.Fatalf("HandleTask: %v", err)
	}
	if hit {
		t.Error("inactive subscription was still delivered to")
	}
	if len(fx.store.recorded) != 0 {
		t.Error("skip should not write a ledger attempt")
	}
}

func TestHandleTaskRegistryErrorRequeues(t *testing.T) {
	fx := newFixture()
	fx.registry.err = errors.New("db down")
	if err := fx.handler.HandleTask(context.Background(), testTask("sub-1", 1)); err == nil {
		t.Fatal("expected error for transient registry failure")
	}
}

func TestHandleTaskDeferFailureRequeues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	fx := newFixture(testSub("sub-1", srv.URL))
	fx.pub.deferErr = errors.New("nsqd unavailable")
	if err := fx.handler.HandleTask(context.Background(), testTask("sub-1", 1)); err == nil {
		t.Fatal("expected error when retry enqueue fails")
	}
}

func TestHandleMessageBadPayloadIsTerminal(t *testing.T) {
	fx := newFixture()
	m := nsq.NewMessage(nsq.MessageID{}, []byte("not json"))
	if err := fx.handler.HandleMessage(m); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
}
