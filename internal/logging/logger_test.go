package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func capture() (*Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewWithWriter("hookline-test", &buf), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("log line is not JSON: %v\nline: %s", err, buf.String())
	}
	return m
}

func TestPlainEntryShape(t *testing.T) {
	l, buf := capture()
	l.Plain().Info("hello")

	m := decodeLine(t, buf)
	if m["msg"] != "hello" {
		t.Errorf("msg = %v, want hello", m["msg"])
	}
	if m["level"] != "info" {
		t.Errorf("level = %v, want info", m["level"])
	}
	if m["service"] != "hookline-test" {
		t.Errorf("service = %v", m["service"])
	}
	if _, ok := m["time"]; !ok {
		t.Error("time field missing")
	}
}

func TestDomainFields(t *testing.T) {
	l, buf := capture()
	l.Plain().
		WithSubscription("sub-1").
		WithEvent("evt-1", "user.created").
		WithDelivery("del-1").
		Warn("delivery failed")

	m := decodeLine(t, buf)
	if m["subscription_id"] != "sub-1" {
		t.Errorf("subscription_id = %v", m["subscription_id"])
	}
	if m["event_id"] != "evt-1" || m["event_type"] != "user.created" {
		t.Errorf("event fields = %v / %v", m["event_id"], m["event_type"])
	}
	if m["delivery_id"] != "del-1" {
		t.Errorf("delivery_id = %v", m["delivery_id"])
	}
	if m["level"] != "warn" {
		t.Errorf("level = %v", m["level"])
	}
}

func TestWithErrorAndFields(t *testing.T) {
	l, buf := capture()
	l.Plain().
		WithError(errors.New("boom")).
		WithField("attempt", 3).
		WithFields(map[string]any{"delay": "4s"}).
		Error("requeue failed")

	m := decodeLine(t, buf)
	fields, ok := m["fields"].(map[string]any)
	if !ok {
		t.Fatalf("fields missing: %v", m)
	}
	if fields["error"] != "boom" {
		t.Errorf("error field = %v", fields["error"])
	}
	if fields["attempt"] != float64(3) {
		t.Errorf("attempt field = %v", fields["attempt"])
	}
	if fields["delay"] != "4s" {
		t.Errorf("delay field = %v", fields["delay"])
	}
}

func TestWithErrorNil(t *testing.T) {
	l, buf := capture()
	l.Plain().WithError(nil).Info("fine")

	m := decodeLine(t, buf)
	if _, ok := m["fields"]; ok {
		t.Error("nil error should not add fields")
	}
}

func TestEmptyFieldsOmitted(t *testing.T) {
	l, buf := capture()
	l.Plain().Info("bare")

	if bytes.Contains(buf.Bytes(), []byte(`"fields"`)) {
		t.Error("empty fields map should be omitted from output")
	}
}

func TestInfofFormatting(t *testing.T) {
	l, buf := capture()
	l.Plain().Infof("attempt %d of %d", 2, 3)

	m := decodeLine(t, buf)
	if m["msg"] != "attempt 2 of 3" {
		t.Errorf("msg = %v", m["msg"])
	}
}

func TestWithContextNoSpan(t *testing.T) {
	l, buf := capture()
	l.WithContext(context.Background()).Info("no trace")

	m := decodeLine(t, buf)
	if _, ok := m["trace_id"]; ok {
		t.Error("trace_id should be omitted without an active span")
	}
}
