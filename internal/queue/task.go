package queue

import (
	"fmt"
	"strings"

	"github.com/hookline/hookline/internal/event"
)

// Task is the dispatch job envelope carried through the durable queue.
// It is plain JSON end to end: the payload is a typed record, never a
// stringified structure that a consumer would have to evaluate.
type Task struct {
	SubscriptionID string            `json:"subscription_id"`
	Payload        event.Payload     `json:"payload"`
	Attempt        int               `json:"attempt"`      // 1-based
	PublishedAt    string            `json:"published_at"` // RFC3339
	TraceHeaders   map[string]string `json:"trace_headers,omitempty"`
}

func (t Task) Validate() error {
	if strings.TrimSpace(t.SubscriptionID) == "" {
		return fmt.Errorf("subscription_id is required")
	}
	if t.Payload.EventType == "" {
		return fmt.Errorf("payload event_type is required")
	}
	if t.Payload.EventID == "" {
		return fmt.Errorf("payload event_id is required")
	}
	if t.Attempt < 1 {
		return fmt.Errorf("attempt must be >= 1, got %d", t.Attempt)
	}
	return nil
}
