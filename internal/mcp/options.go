package mcp

import (
	"time"

	"github.com/parityleague/league/internal/queue"
)

// CallOption adjusts a single tool invocation.
type CallOption func(*callOptions)

type callOptions struct {
	priority queue.Priority
	timeout  time.Duration
}

// WithPriority sets the outbound queue tier for the call. Application calls
// default to NORMAL; URGENT is reserved for liveness traffic and should be
// used sparingly.
func WithPriority(p queue.Priority) CallOption {
	return func(o *callOptions) { o.priority = p }
}

// WithTimeout overrides the configured per-call timeout.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}
