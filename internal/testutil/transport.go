// Package testutil holds fakes and helpers shared by package tests. It
// depends only on the protocol and transport layers so that any package can
// import it without cycles.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/transport"
)

// FakeTransport is a scripted in-memory transport. Responder decides what
// (if anything) comes back for each sent message; FailSends injects that
// many transient send failures before sends start succeeding.
type FakeTransport struct {
	// Responder is called for every successful Send. A nil return sends
	// nothing back. Set before Start.
	Responder func(msg protocol.Message) *protocol.Message

	// DropResponses suppresses Responder output when set, simulating a
	// peer that accepts writes but never answers.
	DropResponses atomic.Bool

	failSends atomic.Int32
	sends     atomic.Int32

	mu     sync.Mutex
	sent   []protocol.Message
	closed bool

	inbound chan protocol.Message
	once    sync.Once
}

// NewFakeTransport returns a transport whose Responder answers only pings.
func NewFakeTransport() *FakeTransport {
	t := &FakeTransport{inbound: make(chan protocol.Message, 64)}
	t.Responder = func(msg protocol.Message) *protocol.Message {
		if msg.Method == protocol.MethodPing && msg.ID != "" {
			reply, _ := protocol.NewResult(msg.ID, struct{}{})
			return &reply
		}
		return nil
	}
	return t
}

// FailSends makes the next n Send calls fail with a transient error.
func (t *FakeTransport) FailSends(n int) { t.failSends.Store(int32(n)) }

// SendCount reports how many Send calls were attempted, failures included.
func (t *FakeTransport) SendCount() int { return int(t.sends.Load()) }

// Sent returns a copy of every successfully sent message.
func (t *FakeTransport) Sent() []protocol.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]protocol.Message, len(t.sent))
	copy(out, t.sent)
	return out
}

// Push injects a message into the inbound channel, as if the peer sent it.
func (t *FakeTransport) Push(msg protocol.Message) {
	t.inbound <- msg
}

func (t *FakeTransport) Start(context.Context) (<-chan protocol.Message, error) {
	return t.inbound, nil
}

func (t *FakeTransport) Send(ctx context.Context, msg protocol.Message) error {
	t.sends.Add(1)
	if t.failSends.Load() > 0 {
		t.failSends.Add(-1)
		return &transport.Error{Op: "send", Err: context.DeadlineExceeded}
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return &transport.Error{Op: "send", Err: context.Canceled}
	}
	t.sent = append(t.sent, msg)
	responder := t.Responder
	t.mu.Unlock()

	if responder == nil || t.DropResponses.Load() {
		return nil
	}
	if reply := responder(msg); reply != nil {
		select {
		case t.inbound <- *reply:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		t.once.Do(func() { close(t.inbound) })
	}
	return nil
}
