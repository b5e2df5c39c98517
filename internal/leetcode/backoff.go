package leetcode

import (
	"math/rand"
	"time"
)

// BackoffPolicy controls retries of transient verification failures. It is
// a plain value passed into the client, so tests can shrink delays to
// microseconds and callers can tune it from configuration.
type BackoffPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter maps a computed delay to the final sleep. Nil means full
	// jitter: a uniform draw from (0, delay].
	Jitter func(time.Duration) time.Duration
}

// DefaultBackoff matches the remote provider's tolerance: few attempts,
// sub-second base, capped well under a tick deadline.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// delay returns the sleep before retry number attempt (1-based: the delay
// after the first failure is delay(1)).
func (p BackoffPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = 500 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.Jitter != nil {
		return p.Jitter(d)
	}
	return time.Duration(rand.Int63n(int64(d))) + 1
}

// attempts returns the effective attempt budget.
func (p BackoffPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}
