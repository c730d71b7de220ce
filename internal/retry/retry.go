package retry

import (
	"math"
	"math/rand"
	"time"
)

// Defaults applied when a scheduler is constructed with zero values.
const (
	DefaultMaxDelay  = time.Hour
	DefaultJitterPct = 0.25
)

// Backoff returns the raw exponential delay for a failed attempt:
// base * 2^attempt. attempt is 1-based, so the first retry after attempt 1
// waits base*2, matching the source formula.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Guard against overflow for absurd attempt counts.
	if attempt > 62 {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(int64(1)<<uint(attempt))
}

// NextRetryAt computes the scheduled time of the next attempt with
// uncapped exponential backoff. Strictly increasing in attempt for any
// positive base.
func NextRetryAt(now time.Time, attempt int, base time.Duration) time.Time {
	return now.Add(Backoff(attempt, base))
}

// Scheduler decides whether a failed attempt is retried and how long the
// re-enqueue is deferred. The exponential backoff itself is uncapped; the
// cap and jitter are applied only to the queue delay so sustained failures
// cannot schedule work arbitrarily far out, and fleets of failing
// subscribers do not retry in lockstep.
type Scheduler struct {
	MaxDelay  time.Duration // cap on the deferred-publish delay, 0 = DefaultMaxDelay
	JitterPct float64       // +/- fraction applied to the delay, 0 = DefaultJitterPct

	// rnd allows deterministic jitter in tests. Nil uses the global source.
	rnd *rand.Rand
}

// NewScheduler returns a scheduler with the given cap and jitter,
// substituting defaults for zero values.
func NewScheduler(maxDelay time.Duration, jitterPct float64) *Scheduler {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if jitterPct <= 0 {
		jitterPct = DefaultJitterPct
	}
	return &Scheduler{MaxDelay: maxDelay, JitterPct: jitterPct}
}

// ShouldRetry reports whether a failed delivery at the given 1-based
// attempt number gets another try. Successful attempts are terminal
// regardless of attempt count; callers only invoke this on failure.
func ShouldRetry(attempt, maxRetries int) bool {
	return attempt < maxRetries
}

// Delay computes the deferred-publish delay for the retry following the
// given failed attempt: exponential backoff, capped, with jitter.
func (s *Scheduler) Delay(attempt int, base time.Duration) time.Duration {
	d := Backoff(attempt, base)

	maxDelay := s.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	if d > maxDelay || d < 0 {
		d = maxDelay
	}

	jitter := s.JitterPct
	if jitter <= 0 {
		jitter = DefaultJitterPct
	}
	f := s.float64()
	// scale into [1-jitter, 1+jitter], floored so the delay never collapses
	scale := 1 + (f*2-1)*jitter
	if scale < 0.1 {
		scale = 0.1
	}
	return time.Duration(float64(d) * scale)
}

func (s *Scheduler) float64() float64 {
	if s.rnd != nil {
		return s.rnd.Float64()
	}
	return rand.Float64()
}
