package subscription

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/hookline/hookline/internal/event"
)

// ErrNotFound is returned by Registry.Get for unknown subscription IDs.
var ErrNotFound = errors.New("subscription not found")

// Subscription is a configured webhook destination. The registry owns it;
// the delivery core reads it and increments its counters, nothing more.
type Subscription struct {
	ID          string
	Name        string
	Description string
	URL         string
	Events      []string
	Secret      []byte
	Active      bool
	Headers     map[string]string
	MaxRetries  int
	// RetryBackoff is the base delay in seconds for exponential backoff.
	RetryBackoff int
	// Timeout bounds a single delivery attempt, in seconds.
	Timeout int
	// Filters are AND-matched against event data; empty means match all.
	Filters map[string]any

	CreatedAt time.Time
	UpdatedAt time.Time

	TotalDeliveries      int64
	SuccessfulDeliveries int64
	FailedDeliveries     int64
	LastDeliveryAt       *time.Time
	LastSuccessAt        *time.Time
	LastFailureAt        *time.Time
}

// ListensTo reports whether the subscription is subscribed to eventType.
func (s *Subscription) ListensTo(eventType string) bool {
	for _, e := range s.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// BackoffBase returns the retry base delay as a duration.
func (s *Subscription) BackoffBase() time.Duration {
	return time.Duration(s.RetryBackoff) * time.Second
}

// RequestTimeout returns the per-attempt timeout as a duration.
func (s *Subscription) RequestTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// MatchesFilters evaluates the subscription's filter predicate against
/// event data: every filter key must be present with a structurally equal
// value. Equality goes through canonical JSON so that e.g. int 1 and
// float64 1 compare equal and nested objects compare independent of key
// order. No filters means always match.
func (s *Subscription) MatchesFilters(data map[string]any) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for key, want := range s.Filters {
		got, ok := data[key]
		if !ok {
			return false
		}
		if !jsonEqual(want, got) {
			return false
		}
	}
	return true
}

func jsonEqual(a, b any) bool {
	ca, err := event.CanonicalJSON(a)
	if err != nil {
		return false
	}
	cb, err := event.CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// Registry is the external subscription store consumed by the delivery
// core: read access plus the post-attempt counter increment.
type Registry interface {
	// FindActiveForEvent returns all active subscriptions whose event list
	// contains eventType. Filter evaluation is the caller's job.
	FindActiveForEvent(ctx context.Context, eventType string) ([]Subscription, error)

	// Get returns the subscription or ErrNotFound.
	Get(ctx context.Context, id string) (*Subscription, error)

	// IncrementCounters bumps total_deliveries and the success or failure
	// counter atomically at the store, recording the delivery timestamps.
	// Must never be implemented as read-modify-write in application code.
	IncrementCounters(ctx context.Context, id string, success bool, at time.Time) error
}
