package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/queue"
)

// ResourceCallback receives resource update notifications. Callbacks for a
// given URI run in notification arrival order; a slow callback delays later
// updates for the same server rather than reordering them.
type ResourceCallback func(uri string, contents json.RawMessage)

// subscription tracks one URI: at most one callback per subscriber id,
// plus the last-value cache.
type subscription struct {
	serverName string
	callbacks  map[string]ResourceCallback
	lastValue  json.RawMessage
	hasValue   bool
}

// ResourceManager tracks resource subscriptions across sessions. Local
// fan-out is decoupled from the upstream protocol: the first local
// subscriber for a URI triggers one resources/subscribe call, the last one
// leaving triggers one resources/unsubscribe, and everything in between is
// served from the subscriber map and the last-value cache.
type ResourceManager struct {
	logger      log.Logger
	callTimeout time.Duration

	mu   sync.Mutex
	subs map[string]*subscription // keyed by URI
}

// NewResourceManager returns an empty manager. callTimeout bounds the
// upstream subscribe/unsubscribe calls.
func NewResourceManager(callTimeout time.Duration, logger log.Logger) *ResourceManager {
	return &ResourceManager{
		logger:      logger,
		callTimeout: callTimeout,
		subs:        make(map[string]*subscription),
	}
}

// caller abstracts the session call surface the manager needs; *Session
// satisfies it.
type caller interface {
	Call(ctx context.Context, method string, params any, priority queue.Priority, timeout time.Duration) (protocol.Message, error)
}

// Subscribe registers the subscriber's callback for the URI. At most one
// registration exists per (subscriberID, uri); a repeat subscribe keeps the
// existing one and is a no-op. The upstream subscribe request goes out
// only when this is the first local subscriber; later subscribers attach
// locally and immediately receive the cached last value when one exists.
func (m *ResourceManager) Subscribe(ctx context.Context, sess caller, serverName, uri, subscriberID string, cb ResourceCallback) error {
	if cb == nil {
		return fmt.Errorf("subscribe %s: nil callback", uri)
	}
	if subscriberID == "" {
		return fmt.Errorf("subscribe %s: empty subscriber id", uri)
	}

	m.mu.Lock()
	sub, ok := m.subs[uri]
	if !ok {
		sub = &subscription{
			serverName: serverName,
			callbacks:  make(map[string]ResourceCallback),
		}
		m.subs[uri] = sub
	}
	if _, exists := sub.callbacks[subscriberID]; exists {
		m.mu.Unlock()
		return nil
	}
	sub.callbacks[subscriberID] = cb
	first := len(sub.callbacks) == 1
	cached := sub.lastValue
	hasCached := sub.hasValue
	m.mu.Unlock()

	if first {
		params := protocol.SubscribeResourceParams{URI: uri}
		if _, err := sess.Call(ctx, protocol.MethodResourcesSubscribe, params, queue.Normal, m.callTimeout); err != nil {
			m.mu.Lock()
			if sub, ok := m.subs[uri]; ok {
				delete(sub.callbacks, subscriberID)
				if len(sub.callbacks) == 0 {
					delete(m.subs, uri)
				}
			}
			m.mu.Unlock()
			return fmt.Errorf("subscribe %s: %w", uri, err)
		}
		m.logger.Debug("resource subscribed upstream", "uri", uri, "server", serverName)
	} else if hasCached {
		cb(uri, cached)
	}
	return nil
}

// Unsubscribe removes the subscriber's registration for the URI; unknown
// subscribers are a no-op. The upstream unsubscribe request goes out only
// when the last local subscriber leaves; an upstream failure is logged but
// the local state is already cleaned up.
func (m *ResourceManager) Unsubscribe(ctx context.Context, sess caller, uri, subscriberID string) error {
	m.mu.Lock()
	sub, ok := m.subs[uri]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	if _, ok := sub.callbacks[subscriberID]; !ok {
		m.mu.Unlock()
		return nil
	}
	delete(sub.callbacks, subscriberID)
	last := len(sub.callbacks) == 0
	if last {
		delete(m.subs, uri)
	}
	m.mu.Unlock()

	if !last {
		return nil
	}
	params := protocol.SubscribeResourceParams{URI: uri}
	if _, err := sess.Call(ctx, protocol.MethodResourcesUnsubscribe, params, queue.Normal, m.callTimeout); err != nil {
		m.logger.Warn("resource unsubscribe upstream failed", "uri", uri, "error", err)
	}
	return nil
}

// HandleUpdate routes a resources/updated notification to the URI's
// subscribers and refreshes the last-value cache. Updates with no local
// subscribers are dropped.
func (m *ResourceManager) HandleUpdate(uri string, contents json.RawMessage) {
	m.mu.Lock()
	sub, ok := m.subs[uri]
	if !ok {
		m.mu.Unlock()
		return
	}
	sub.lastValue = contents
	sub.hasValue = true
	cbs := make([]ResourceCallback, 0, len(sub.callbacks))
	for _, cb := range sub.callbacks {
		cbs = append(cbs, cb)
	}
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(uri, contents)
	}
}

// LastValue returns the cached contents for the URI, if any update has been
// seen since the first subscription.
func (m *ResourceManager) LastValue(uri string) (json.RawMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[uri]
	if !ok || !sub.hasValue {
		return nil, false
	}
	return sub.lastValue, true
}

// ServerFor returns the server owning the URI's subscription, if any.
func (m *ResourceManager) ServerFor(uri string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[uri]
	if !ok {
		return "", false
	}
	return sub.serverName, true
}

// DropServer discards all subscriptions owned by the server. Called when
// its session closes; no upstream traffic is attempted.
func (m *ResourceManager) DropServer(serverName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for uri, sub := range m.subs {
		if sub.serverName == serverName {
			delete(m.subs, uri)
		}
	}
}
