package mcp

import (
	"math/rand/v2"
	"time"
)

// backoff computes retry delays: exponential in the attempt number with up
// to 10% positive jitter, clamped to max. The jitter desynchronizes retry
// storms across agents that failed at the same moment.
type backoff struct {
	base time.Duration
	max  time.Duration
	rand func() float64 // uniform in [0,1); swapped in tests
}

func newBackoff(base, max time.Duration) backoff {
	return backoff{base: base, max: max, rand: rand.Float64}
}

// Delay returns the wait before retry number attempt (0-based):
// min(base * 2^attempt * (1 + uniform(0, 0.1)), max).
func (b backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Shifting beyond 62 bits would overflow long before the clamp.
	if attempt > 32 {
		attempt = 32
	}

	raw := float64(b.base) * float64(uint64(1)<<uint(attempt))
	d := time.Duration(raw * (1 + b.rand()*0.1))
	if d > b.max || d < 0 {
		return b.max
	}
	return d
}
