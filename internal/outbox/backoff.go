package outbox

import "time"

// Backoff is an exponential retry schedule: Base·2^(n−1), clamped to Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff gives 1m, 2m, 4m, 8m and then 15m for every later attempt.
var DefaultBackoff = Backoff{Base: time.Minute, Max: 15 * time.Minute}

// Delay returns the wait after the given number of consumed attempts.
func (b Backoff) Delay(attempts int) time.Duration {
	base, limit := b.Base, b.Max
	if base <= 0 {
		base = DefaultBackoff.Base
	}
	if limit <= 0 {
		limit = DefaultBackoff.Max
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= limit {
			return limit
		}
	}
	if delay > limit {
		return limit
	}
	return delay
}
