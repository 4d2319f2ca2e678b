package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/queue"
)

// Client is the facade over the communication core: sessions, the tool
// registry, and the resource manager, composed behind one surface. It is
// safe for concurrent use.
type Client struct {
	cfg    *config.Config
	logger log.Logger
	tracer trace.Tracer

	sessions  *SessionManager
	tools     *ToolRegistry
	resources *ResourceManager
}

// NewClient wires the core together. A nil dialer uses DefaultDialer.
func NewClient(cfg *config.Config, dialer TransportDialer, logger log.Logger) *Client {
	c := &Client{
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("league/mcp"),
		tools:     NewToolRegistry(logger),
		resources: NewResourceManager(cfg.Call.Timeout, logger),
	}
	if dialer == nil {
		dialer = DefaultDialer(logger)
	}
	c.sessions = NewSessionManager(cfg, dialer, c.handleNotification, c.handleSessionClosed, logger)
	return c
}

// handleNotification routes inbound server notifications. Resource updates
// go to the resource manager; anything else is logged and dropped.
func (c *Client) handleNotification(serverName, method string, params json.RawMessage) {
	switch method {
	case protocol.NotificationResourceUpdated:
		var p protocol.ResourceUpdatedParams
		if err := json.Unmarshal(params, &p); err != nil {
			c.logger.Warn("malformed resource update", "server", serverName, "err", err)
			return
		}
		c.resources.HandleUpdate(p.URI, p.Contents)
	default:
		c.logger.Debug("unhandled notification", "server", serverName, "method", method)
	}
}

// handleSessionClosed drops everything the dead session contributed:
// its tool descriptors and its resource subscriptions.
func (c *Client) handleSessionClosed(serverName string) {
	c.tools.DropServer(serverName)
	c.resources.DropServer(serverName)
	c.logger.Info("session state dropped", "server", serverName)
}

// Connect establishes a session to the server and discovers its tools.
// Connecting to an already-connected server refreshes the tool catalog.
func (c *Client) Connect(ctx context.Context, sc config.ServerConfig) error {
	sess, err := c.sessions.Connect(ctx, sc)
	if err != nil {
		return err
	}
	if err := c.discoverTools(ctx, sess); err != nil {
		return fmt.Errorf("connect %s: %w", sc.Name, err)
	}
	return nil
}

func (c *Client) discoverTools(ctx context.Context, sess *Session) error {
	msg, err := sess.Call(ctx, protocol.MethodToolsList, nil, queue.Normal, c.cfg.Call.Timeout)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}
	var result protocol.ListToolsResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		return fmt.Errorf("tools/list: decode: %w", err)
	}
	for _, t := range result.Tools {
		d := ToolDescriptor{
			ServerName:  sess.ServerName,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
		if err := c.tools.Register(d); err != nil {
			return err
		}
	}
	c.logger.Info("tools discovered", "server", sess.ServerName, "count", len(result.Tools))
	return nil
}

// Disconnect tears down the session to the server. Pending calls fail with
// ErrSessionClosed; the server's tools and subscriptions are dropped.
func (c *Client) Disconnect(serverName string) error {
	return c.sessions.Disconnect(serverName)
}

// ListTools returns every known tool descriptor, sorted by namespaced name.
func (c *Client) ListTools() []ToolDescriptor {
	return c.tools.List("")
}

// CallTool resolves the tool name, sends a tools/call request to the owning
// server, and returns the result content. Unqualified names must be unique
// across connected servers. A transport-level failure surfaces the session
// error; a tool-level failure surfaces ErrToolFailed with the content
// attached.
func (c *Client) CallTool(ctx context.Context, name string, args any, opts ...CallOption) (json.RawMessage, error) {
	o := callOptions{priority: queue.Normal, timeout: c.cfg.Call.Timeout}
	for _, opt := range opts {
		opt(&o)
	}

	d, err := c.tools.Resolve(name)
	if err != nil {
		return nil, err
	}
	sess, err := c.sessions.Get(d.ServerName)
	if err != nil {
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "mcp.call_tool",
		trace.WithAttributes(
			attribute.String("tool.name", d.Namespaced),
			attribute.String("server.name", d.ServerName),
			attribute.String("call.priority", o.priority.String()),
		))
	defer span.End()

	var raw json.RawMessage
	if args != nil {
		raw, err = json.Marshal(args)
		if err != nil {
			span.SetStatus(codes.Error, "encode arguments")
			return nil, fmt.Errorf("call %s: encode arguments: %w", d.Namespaced, err)
		}
	}
	params := protocol.CallToolParams{Name: d.Name, Arguments: raw}

	msg, err := sess.Call(ctx, protocol.MethodToolsCall, params, o.priority, o.timeout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("call %s: %w", d.Namespaced, err)
	}

	var result protocol.CallToolResult
	if err := json.Unmarshal(msg.Result, &result); err != nil {
		span.SetStatus(codes.Error, "decode result")
		return nil, fmt.Errorf("call %s: decode result: %w", d.Namespaced, err)
	}
	if result.IsError {
		span.SetStatus(codes.Error, "tool reported failure")
		return result.Content, fmt.Errorf("call %s: %w: %s", d.Namespaced, ErrToolFailed, result.Content)
	}
	return result.Content, nil
}

// SubscribeResource subscribes the callback to updates of the URI hosted by
// the server. subscriberID identifies the caller: at most one registration
// exists per (subscriberID, uri) and a repeat subscribe is idempotent.
// Subsequent subscribers to the same URI attach locally without another
// upstream request.
func (c *Client) SubscribeResource(ctx context.Context, serverName, uri, subscriberID string, cb ResourceCallback) error {
	sess, err := c.sessions.Get(serverName)
	if err != nil {
		return err
	}
	return c.resources.Subscribe(ctx, sess, serverName, uri, subscriberID, cb)
}

// UnsubscribeResource releases the subscriber's registration. When the last
// local subscriber leaves, the upstream subscription is cancelled too.
func (c *Client) UnsubscribeResource(ctx context.Context, uri, subscriberID string) error {
	serverName, ok := c.resources.ServerFor(uri)
	if !ok {
		return nil
	}
	sess, err := c.sessions.Get(serverName)
	if err != nil {
		// Session already gone; local state went with it.
		return nil
	}
	return c.resources.Unsubscribe(ctx, sess, uri, subscriberID)
}

// ResourceValue returns the cached last value for a subscribed URI.
func (c *Client) ResourceValue(uri string) (json.RawMessage, bool) {
	return c.resources.LastValue(uri)
}

// SessionStatus reports health diagnostics for one session.
func (c *Client) SessionStatus(serverName string) (Status, error) {
	return c.sessions.Status(serverName)
}

// SessionNames lists currently connected servers.
func (c *Client) SessionNames() []string {
	return c.sessions.Names()
}

// Close disconnects every session.
func (c *Client) Close() {
	c.sessions.Close()
}
