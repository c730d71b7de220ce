package signature

import (
	"strings"
	"testing"

	"github.com/hookline/hookline/internal/event"
)

func TestSignFormat(t *testing.T) {
	sig := Sign([]byte(`{"a":1}`), []byte("secret"))
	if !strings.HasPrefix(sig, Prefix) {
		t.Errorf("signature %q missing %q prefix", sig, Prefix)
	}
	// sha256 hex digest is 64 chars
	if len(sig) != len(Prefix)+64 {
		t.Errorf("signature length = %d, want %d", len(sig), len(Prefix)+64)
	}
}

func TestSignDeterministic(t *testing.T) {
	payload := []byte(`{"a":1,"b":[1,2,3]}`)
	secret := []byte("s3cret")
	if Sign(payload, secret) != Sign(payload, secret) {
		t.Error("signing the same bytes twice should yield identical signatures")
	}
}

func TestVerifyRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		secret  string
	}{
		{"simple object", `{"a":1}`, "secret"},
		{"empty object", `{}`, "secret"},
		{"empty secret", `{"a":1}`, ""},
		{"unicode payload", `{"name":"ünïcødé"}`, "secret"},
		{"long secret", `{"a":1}`, strings.Repeat("x", 1024)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := Sign([]byte(tt.payload), []byte(tt.secret))
			if !Verify([]byte(tt.payload), sig, []byte(tt.secret)) {
				t.Error("Verify(P, Sign(P,S), S) should be true")
			}
		})
	}
}

func TestVerifyRejects(t *testing.T) {
	payload := []byte(`{"a":1}`)
	secret := []byte("secret")
	sig := Sign(payload, secret)

	tests := []struct {
		name    string
		payload []byte
		sig     string
		secret  []byte
	}{
		{"wrong secret", payload, sig, []byte("other")},
		{"tampered payload", []byte(`{"a":2}`), sig, secret},
		{"garbage signature", payload, "sha256=deadbeef", secret},
		{"missing prefix", payload, strings.TrimPrefix(sig, Prefix), secret},
		{"empty signature", payload, "", secret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if Verify(tt.payload, tt.sig, tt.secret) {
				t.Error("Verify should reject")
			}
		})
	}
}

func TestSignatureStableUnderReserialization(t *testing.T) {
	// Two maps with the same logical content but different construction
	// order must produce the same signature once canonicalized.
	secret := []byte("secret")

	a := map[string]any{"plan": "pro", "user": map[string]any{"id": 1, "email": "a@b.c"}}
	b := map[string]any{"user": map[string]any{"email": "a@b.c", "id": 1}, "plan": "pro"}

	ca, err := event.CanonicalJSON(a)
	if err != nil {
		t.Fatal(err)
	}
	cb, err := event.CanonicalJSON(b)
	if err != nil {
		t.Fatal(err)
	}

	if Sign(ca, secret) != Sign(cb, secret) {
		t.Error("signatures should be identical for the same logical payload")
	}
}
