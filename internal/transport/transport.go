// Package transport implements the wire layer between league agents: one
// serialized JSON-RPC message out, inbound messages in. Transports are
// stateless with respect to protocol semantics: they never retry, never
// interpret payloads, and report every connectivity failure as *Error so
// the connection manager can classify it as transient.
//
// Two implementations share the contract: HTTP (POST per request plus an
// SSE stream for server-initiated messages) and Stream (newline-delimited
// JSON over an io.Reader/io.Writer pair, used for stdio wiring and
// in-process tests).
package transport

import (
	"context"
	"fmt"

	"github.com/parityleague/league/internal/protocol"
)

// Transport is the minimal wire contract the connection manager depends
// on. Start must be called exactly once before Send; the returned channel
// carries every inbound message (responses and notifications alike) and is
// closed when the underlying connection is lost or Close is called.
type Transport interface {
	Start(ctx context.Context) (<-chan protocol.Message, error)
	Send(ctx context.Context, msg protocol.Message) error
	Close() error
}

// Error wraps a connectivity failure: connection refused, reset, timeout,
// or a malformed frame. The connection manager treats any *Error as
// transient and eligible for retry.
type Error struct {
	Op  string // "send", "connect", "read"
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}
