package poller

import (
	"math/rand/v2"
	"time"
)

const maxBackoffShift = 16

// backoff determines the delay before the next cycle after a transient failure: base * 2^n, capped at max,
// plus up to base of jitter.
type backoff struct {
	base     time.Duration
	max      time.Duration
	failures int
}

func (b *backoff) Next() time.Duration {
	delay := b.max
	if shift := min(b.failures, maxBackoffShift); b.base<<shift < b.max {
		delay = b.base << shift
	}
	b.failures++
	if b.base > 0 {
		delay += rand.N(b.base)
	}
	return delay
}

func (b *backoff) Reset() {
	b.failures = 0
}

// errorLimiter lets one error through per interval.
type errorLimiter struct {
	interval time.Duration
	last     time.Time
}

func (l *errorLimiter) Allow(now time.Time) bool {
	if !l.last.IsZero() && now.Sub(l.last) < l.interval {
		return false
	}
	l.last = now
	return true
}
