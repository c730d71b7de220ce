package retry

import (
	"math/rand"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		base    time.Duration
		want    time.Duration
	}{
		{"attempt 1", 1, time.Minute, 2 * time.Minute},
		{"attempt 2", 2, time.Minute, 4 * time.Minute},
		{"attempt 3", 3, time.Minute, 8 * time.Minute},
		{"attempt 0", 0, time.Minute, time.Minute},
		{"negative attempt clamps", -3, time.Minute, time.Minute},
		{"different base", 2, 30 * time.Second, 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Backoff(tt.attempt, tt.base); got != tt.want {
				t.Errorf("Backoff(%d, %v) = %v, want %v", tt.attempt, tt.base, got, tt.want)
			}
		})
	}
}

func TestNextRetryAtStrictlyIncreasing(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	base := 10 * time.Second

	prev := NextRetryAt(now, 1, base)
	for attempt := 2; attempt <= 20; attempt++ {
		next := NextRetryAt(now, attempt, base)
		if !next.After(prev) {
			t.Fatalf("NextRetryAt(%d) = %v not after NextRetryAt(%d) = %v", attempt, next, attempt-1, prev)
		}
		prev = next
	}
}

func TestNextRetryAtFormula(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// now + 60 * 2^2 seconds
	got := NextRetryAt(now, 2, time.Minute)
	want := now.Add(4 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("NextRetryAt = %v, want %v", got, want)
	}
}

func TestBackoffOverflowGuard(t *testing.T) {
	d := Backoff(500, time.Minute)
	if d <= 0 {
		t.Errorf("huge attempt counts must not overflow to a non-positive delay, got %v", d)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		attempt    int
		maxRetries int
		want       bool
	}{
		{"first failure retries", 1, 3, true},
		{"second failure retries", 2, 3, true},
		{"final attempt exhausted", 3, 3, false},
		{"beyond max", 4, 3, false},
		{"zero max retries", 1, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldRetry(tt.attempt, tt.maxRetries); got != tt.want {
				t.Errorf("ShouldRetry(%d, %d) = %v, want %v", tt.attempt, tt.maxRetries, got, tt.want)
			}
		})
	}
}

func TestSchedulerDelayWithinJitterBounds(t *testing.T) {
	s := NewScheduler(time.Hour, 0.25)
	s.rnd = rand.New(rand.NewSource(1))

	base := 10 * time.Second
	for attempt := 1; attempt <= 5; attempt++ {
		raw := Backoff(attempt, base)
		d := s.Delay(attempt, base)
		lo := time.Duration(float64(raw) * 0.75)
		hi := time.Duration(float64(raw) * 1.25)
		if d < lo || d > hi {
			t.Errorf("Delay(%d) = %v outside [%v, %v]", attempt, d, lo, hi)
		}
	}
}

func TestSchedulerDelayCapped(t *testing.T) {
	s := NewScheduler(time.Minute, 0.25)
	s.rnd = rand.New(rand.NewSource(1))

	// attempt 20 at 1m base would be ~12 days uncapped
	d := s.Delay(20, time.Minute)
	if d > time.Duration(float64(time.Minute)*1.25) {
		t.Errorf("Delay = %v exceeds cap plus jitter", d)
	}
	if d <= 0 {
		t.Errorf("Delay = %v should be positive", d)
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(0, 0)
	if s.MaxDelay != DefaultMaxDelay {
		t.Errorf("MaxDelay = %v, want %v", s.MaxDelay, DefaultMaxDelay)
	}
	if s.JitterPct != DefaultJitterPct {
		t.Errorf("JitterPct = %v, want %v", s.JitterPct, DefaultJitterPct)
	}
}
