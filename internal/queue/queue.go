// Package queue provides the thread-safe, three-tier priority FIFO buffer
// used for outbound dispatch throttling and inbound message routing.
//
// Dequeue always drains every URGENT message before any HIGH, and every
// HIGH before any NORMAL; within a tier, arrival order is preserved.
// Heartbeat probes enter at URGENT so liveness detection is never starved
// by a backlog of application traffic.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/parityleague/league/internal/protocol"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// Priority orders messages at dispatch time. Higher values dispatch first.
type Priority int

const (
	Normal Priority = iota
	High
	Urgent
)

func (p Priority) String() string {
	switch p {
	case Urgent:
		return "urgent"
	case High:
		return "high"
	case Normal:
		return "normal"
	default:
		return "unknown"
	}
}

// Direction records which way a message is traveling, for observability.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

// Message is one unit of work in the queue.
type Message struct {
	ID         string
	Priority   Priority
	Direction  Direction
	Msg        protocol.Message
	EnqueuedAt time.Time
}

// Queue is a three-tier priority FIFO. The zero value is not usable; use
// New.
type Queue struct {
	mu     sync.Mutex
	tiers  [3][]Message // indexed by Priority
	ready  chan struct{}
	closed bool
}

// New returns an empty open queue.
func New() *Queue {
	return &Queue{ready: make(chan struct{})}
}

// Enqueue appends m to its priority tier and wakes blocked consumers.
func (q *Queue) Enqueue(m Message) error {
	if m.Priority < Normal || m.Priority > Urgent {
		m.Priority = Normal
	}
	if m.EnqueuedAt.IsZero() {
		m.EnqueuedAt = time.Now()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}

	q.tiers[m.Priority] = append(q.tiers[m.Priority], m)

	// Broadcast: every waiter re-checks the tiers.
	close(q.ready)
	q.ready = make(chan struct{})
	return nil
}

// Dequeue blocks until a message is available, the context is done, or the
// queue is closed. It returns the oldest message of the highest non-empty
// tier.
func (q *Queue) Dequeue(ctx context.Context) (Message, error) {
	for {
		q.mu.Lock()
		if m, ok := q.popLocked(); ok {
			q.mu.Unlock()
			return m, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Message{}, ErrClosed
		}
		ready := q.ready
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-ready:
		}
	}
}

// TryDequeue returns the next message without blocking.
func (q *Queue) TryDequeue() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popLocked()
}

func (q *Queue) popLocked() (Message, bool) {
	for p := Urgent; p >= Normal; p-- {
		tier := q.tiers[p]
		if len(tier) == 0 {
			continue
		}
		m := tier[0]
		// Shift rather than reslice so the backing array does not pin
		// dispatched messages.
		copy(tier, tier[1:])
		q.tiers[p] = tier[:len(tier)-1]
		return m, true
	}
	return Message{}, false
}

// Len reports the total number of queued messages across all tiers.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tiers[Normal]) + len(q.tiers[High]) + len(q.tiers[Urgent])
}

// Close rejects further enqueues and releases blocked consumers with
// ErrClosed once the tiers drain. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ready)
}
