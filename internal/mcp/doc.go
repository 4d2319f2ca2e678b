// Package mcp implements the communication core every league agent uses to
// talk to every other agent: session lifecycle, failure isolation, retry
// scheduling, priority dispatch, tool discovery, and resource
// subscriptions.
//
// Composition, leaves first:
//
//   - breaker/backoff: per-session failure-isolation policy
//   - conn: one connection manager per session; owns the transport, the
//     outbound/inbound priority queues, pending-request correlation, and
//     the heartbeat monitor
//   - SessionManager: the set of live sessions, keyed by server name
//   - ToolRegistry: namespaced catalog of discovered tools
//   - ResourceManager: subscriptions and last-value cache
//   - Client: the facade agents depend on (Connect, CallTool, ListTools,
//     SubscribeResource, ...)
//   - Server: the serving side each agent uses to expose its own tools
//
// Every component is explicitly constructed and injected; there is no
// package-level state. One Client per process owns one of everything.
package mcp
