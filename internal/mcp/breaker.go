package mcp

import (
	"sync"
	"time"
)

// BreakerState is the failure-isolation state of one session.
type BreakerState int

const (
	// BreakerClosed passes calls through; failures are counted.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls without touching the transport.
	BreakerOpen
	// BreakerHalfOpen allows a single probe after the recovery timeout.
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// breaker is the circuit breaker guarding one session. Transitions:
// closed→open when consecutive failures reach the threshold, open→half-open
// when the recovery timeout elapses (the next Allow admits one probe),
// half-open→closed on probe success, half-open→open on probe failure.
//
// The mutex is the single serialization point for a session's failure
// accounting: concurrent callers never hold independent breaker state.
type breaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	probing   bool
	threshold int
	recovery  time.Duration
	now       func() time.Time
}

func newBreaker(threshold int, recovery time.Duration) *breaker {
	return &breaker{
		threshold: threshold,
		recovery:  recovery,
		now:       time.Now,
	}
}

// Allow reports whether a call may proceed. In the open state it returns
// ErrCircuitOpen until the recovery timeout elapses, then admits exactly
// one half-open probe at a time.
func (b *breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.recovery {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probing = true
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Rejects reports whether a call submitted now would be refused, without
// mutating breaker state. Probe admission stays with Allow so a fast-path
// check cannot consume the half-open probe slot.
func (b *breaker) Rejects() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		return b.now().Sub(b.openedAt) < b.recovery
	case BreakerHalfOpen:
		return b.probing
	default:
		return false
	}
}

// RecordSuccess resets failure accounting; a successful half-open probe
// closes the circuit.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerClosed
		b.probing = false
		b.failures = 0
	case BreakerClosed:
		b.failures = 0
	case BreakerOpen:
		// A success can race the transition to open (late response after
		// the tripping failure). The breaker stays open; the cooldown
		// decides recovery.
	}
}

// RecordFailure counts one failed call. Reaching the threshold while
// closed, or any failure while half-open, opens the circuit.
func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.trip()
		}
	case BreakerHalfOpen:
		b.trip()
	case BreakerOpen:
	}
}

func (b *breaker) trip() {
	b.state = BreakerOpen
	b.openedAt = b.now()
	b.failures = 0
	b.probing = false
}

// Snapshot returns the current state and consecutive-failure count.
func (b *breaker) Snapshot() (BreakerState, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state, b.failures
}
