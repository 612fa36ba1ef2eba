// Package backoff computes retry delays for failed sync items.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

const maxShift = 62

// Policy is an exponential schedule with a ceiling and jitter.
type Policy struct {
	Base time.Duration
	Max  time.Duration
	// Jitter, when nil, defaults to a random delay in [delay/2, delay).
	Jitter func(time.Duration) time.Duration
}

// Exponential returns base * 2^attempt, saturating instead of overflowing.
// Negative attempts are treated as 0.
func Exponential(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	} else if attempt > maxShift {
		attempt = maxShift
	}

	multiplier := int64(1) << attempt
	if int64(base) > math.MaxInt64/multiplier {
		return time.Duration(math.MaxInt64)
	}
	return base * time.Duration(multiplier)
}

// Delay returns the wait before retry number attempt (1-based). The extended
// flag doubles the base, used for transient and unclassifiable failures whose
// retry window is twice as long.
func (p Policy) Delay(attempt int, extended bool) time.Duration {
	base := p.Base
	if extended {
		base *= 2
	}
	d := Exponential(base, attempt-1)
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}

	jitter := p.Jitter
	if jitter == nil {
		jitter = halfJitter
	}
	return jitter(d)
}

// halfJitter keeps at least half of the delay so retries never collapse to zero.
func halfJitter(d time.Duration) time.Duration {
	if d <= 1 {
		return d
	}
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(d-half)))
}

// NoJitter returns d unchanged. Useful for deterministic tests.
func NoJitter(d time.Duration) time.Duration { return d }
