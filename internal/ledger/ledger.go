package ledger

import (
	"context"
	"time"
)

// Attempt is one row of the append-only delivery ledger: a single HTTP
// POST try (initial or retry) for one event to one subscription. Created
// at send time, never mutated afterwards.
type Attempt struct {
	ID             string
	SubscriptionID string
	EventID        string
	EventType      string

	// Payload is an audit copy of the canonical body that was sent.
	Payload []byte
	// URL and Headers capture the destination at time of send.
	URL     string
	Headers map[string]string

	// StatusCode is nil when no response round-tripped (timeout, DNS,
	// connection refused).
	StatusCode   *int
	ResponseBody string

	Success      bool
	ErrorMessage string

	CreatedAt time.Time
	// DeliveredAt is set only if the request round-tripped.
	DeliveredAt *time.Time
	DurationMS  int64

	AttemptNumber int
	WillRetry     bool
	NextRetryAt   *time.Time
}

// Filter narrows List queries.
type Filter struct {
	SubscriptionID string
	EventType      string
	// Success filters by outcome when non-nil.
	Success *bool
	Limit   int
}

// Store persists delivery attempts and the paired subscription counter
// updates. Record must commit both in one logical transaction against the
// backing store.
type Store interface {
	// Record appends the attempt and increments the owning subscription's
	// delivery counters atomically.
	Record(ctx context.Context, a *Attempt) error

	// List returns attempts newest-first, for audit and the CLI.
	List(ctx context.Context, f Filter) ([]Attempt, error)
}
