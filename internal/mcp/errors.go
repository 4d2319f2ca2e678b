package mcp

import (
	"errors"

	"github.com/parityleague/league/internal/transport"
)

// Sentinel errors surfaced by the communication core. All are checked with
// errors.Is; callers use Transient to separate "try again later" from
// "this will never succeed".
var (
	// ErrCircuitOpen rejects a call before any transport attempt while a
	// session's breaker is open. It is a consequence of earlier failures,
	// not a cause, and never increments the failure counter itself.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrCallTimeout resolves a pending request whose deadline expired.
	ErrCallTimeout = errors.New("call timed out")

	// ErrSessionClosed resolves pending requests when their session is
	// torn down, and rejects calls against a closed session.
	ErrSessionClosed = errors.New("session closed")

	// ErrSessionNotFound is returned when no session exists for the
	// addressed server name.
	ErrSessionNotFound = errors.New("session not found")

	// ErrToolNotFound is returned when tool resolution matches nothing.
	ErrToolNotFound = errors.New("tool not found")

	// ErrAmbiguousTool is returned when an unqualified tool name matches
	// more than one server. The core never silently picks one.
	ErrAmbiguousTool = errors.New("ambiguous tool name")

	// ErrToolFailed marks a tool execution that reached the server and was
	// reported failed in-band (CallToolResult.IsError). The transport and
	// session are healthy; only the tool's own work went wrong.
	ErrToolFailed = errors.New("tool execution failed")
)

// Transient reports whether err is worth retrying: connectivity failures
// and deadline expiry. Protocol errors and resolution failures are
// permanent and propagate immediately.
func Transient(err error) bool {
	var te *transport.Error
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, ErrCallTimeout)
}
