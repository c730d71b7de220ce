package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Version is the payload schema version sent to subscribers.
const Version = "1.0"

// Payload is the wire-format event sent to every matched subscription.
// It is built once per trigger and reused unchanged across all delivery
// attempts: EventID and Timestamp identify the logical event, not the
// attempt.
type Payload struct {
	EventType string         `json:"event_type"`
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Source    string         `json:"source,omitempty"`
	Version   string         `json:"version"`
}

// NewPayload builds an immutable payload for a logical event. The event ID
// is generated here, exactly once; retries and fan-out share it.
func NewPayload(eventType string, data map[string]any, source string) Payload {
	return Payload{
		EventType: eventType,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Data:      data,
		Source:    source,
		Version:   Version,
	}
}

// CanonicalJSON returns the canonical serialization of the payload: every
// object's keys sorted lexicographically, no insignificant whitespace.
// These exact bytes are both the HMAC signing input and the request body,
// so the receiver can verify without re-deriving a different byte stream.
func (p Payload) CanonicalJSON() ([]byte, error) {
	return CanonicalJSON(p)
}

// CanonicalJSON canonicalizes any JSON-serializable value. Marshaling into
// an intermediate `any` collapses structs into maps, and encoding/json
// emits map keys in sorted order at every nesting depth.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("canonical decode: %w", err)
	}
	out, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("canonical re-marshal: %w", err)
	}
	return out, nil
}
