package mcp

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/queue"
)

// outcome is the single result of a pending request.
type outcome struct {
	msg protocol.Message
	err error
}

// pendingRequest is an in-flight RPC awaiting its response. It resolves
// exactly once, by response, deadline expiry, cancellation, or session
// closure; the sync.Once makes late losers no-ops.
type pendingRequest struct {
	id       string
	priority queue.Priority
	deadline time.Time

	done     chan outcome // buffered; receives the single winning outcome
	once     sync.Once
	settled  atomic.Bool
}

func newPendingRequest(id string, priority queue.Priority, deadline time.Time) *pendingRequest {
	return &pendingRequest{
		id:       id,
		priority: priority,
		deadline: deadline,
		done:     make(chan outcome, 1),
	}
}

// resolve delivers the outcome. Subsequent calls are ignored.
func (p *pendingRequest) resolve(msg protocol.Message, err error) {
	p.once.Do(func() {
		p.settled.Store(true)
		p.done <- outcome{msg: msg, err: err}
	})
}

// resolved reports whether an outcome has been delivered. Used by the
// executor to stop retrying a request the caller has already given up on.
func (p *pendingRequest) resolved() bool {
	return p.settled.Load()
}
