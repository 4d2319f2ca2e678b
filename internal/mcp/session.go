package mcp

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/queue"
	"github.com/parityleague/league/internal/transport"
)

// SessionState is the lifecycle state of a logical connection to one
// server.
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionActive
	SessionDegraded
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionActive:
		return "active"
	case SessionDegraded:
		return "degraded"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is the logical connection to one remote server, owning exactly
// one connection manager. Sessions are created and destroyed by the
// SessionManager only.
type Session struct {
	ID         string
	ServerName string
	CreatedAt  time.Time

	conn *conn
}

// Status is an observability snapshot of one session.
type Status struct {
	State               SessionState
	Circuit             BreakerState
	ConsecutiveFailures int
	LastHeartbeat       time.Time
}

// Status snapshots the session.
func (s *Session) Status() Status {
	circuit, failures := s.conn.breaker.Snapshot()
	return Status{
		State:               s.conn.State(),
		Circuit:             circuit,
		ConsecutiveFailures: failures,
		LastHeartbeat:       s.conn.LastHeartbeat(),
	}
}

// Call issues a request on this session. See conn.Call.
func (s *Session) Call(ctx context.Context, method string, params any, priority queue.Priority, timeout time.Duration) (protocol.Message, error) {
	return s.conn.Call(ctx, method, params, priority, timeout)
}

// TransportDialer builds a transport for a server entry. Swapped by tests
// to connect sessions to in-memory servers.
type TransportDialer func(sc config.ServerConfig) (transport.Transport, error)

// DefaultDialer dials http servers directly and launches stdio servers as
// child processes wired through a line-framed stream.
func DefaultDialer(logger log.Logger) TransportDialer {
	return func(sc config.ServerConfig) (transport.Transport, error) {
		switch sc.Kind {
		case "http":
			return transport.NewHTTP(sc.URL, transport.WithHTTPLogger(logger)), nil
		case "stdio":
			cmd := exec.Command(sc.Command, sc.Args...)
			stdin, err := cmd.StdinPipe()
			if err != nil {
				return nil, fmt.Errorf("stdin pipe for %s: %w", sc.Name, err)
			}
			stdout, err := cmd.StdoutPipe()
			if err != nil {
				return nil, fmt.Errorf("stdout pipe for %s: %w", sc.Name, err)
			}
			if err := cmd.Start(); err != nil {
				return nil, fmt.Errorf("start %s: %w", sc.Name, err)
			}
			go func() {
				// Reap the child when its pipes close.
				_ = cmd.Wait()
			}()
			return newProcessStream(stdout, stdin, logger), nil
		default:
			return nil, fmt.Errorf("%w: unknown kind %q", config.ErrInvalidServer, sc.Kind)
		}
	}
}

func newProcessStream(r io.ReadCloser, w io.WriteCloser, logger log.Logger) transport.Transport {
	return transport.NewStream(r, w, transport.WithStreamLogger(logger))
}

// SessionManager owns the set of active sessions, one per server name. It
// is the unit other components address by name.
type SessionManager struct {
	cfg    *config.Config
	dialer TransportDialer
	logger log.Logger

	// onNotification is invoked from each session's notify loop.
	onNotification notificationHandler
	// onClose runs after a session is torn down, giving the registry and
	// resource manager a chance to drop that server's entries.
	onClose func(serverName string)

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionManager creates a session manager. handler receives inbound
// notifications; onClose is called after Disconnect tears a session down.
func NewSessionManager(cfg *config.Config, dialer TransportDialer, handler notificationHandler, onClose func(string), logger log.Logger) *SessionManager {
	return &SessionManager{
		cfg:            cfg,
		dialer:         dialer,
		logger:         logger,
		onNotification: handler,
		onClose:        onClose,
		sessions:       make(map[string]*Session),
	}
}

// Connect creates a session for the server, or returns the existing one:
// connecting twice to the same name is idempotent. A new session is probed
// with an URGENT ping before it is published as active.
func (m *SessionManager) Connect(ctx context.Context, sc config.ServerConfig) (*Session, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[sc.Name]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	m.mu.Unlock()

	tr, err := m.dialer(sc)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", sc.Name, err)
	}

	c := newConn(sc.Name, tr, m.cfg, m.onNotification, m.logger)
	c.onDead = func() { _ = m.Disconnect(sc.Name) }
	if err := c.start(ctx); err != nil {
		_ = tr.Close()
		return nil, fmt.Errorf("start session %s: %w", sc.Name, err)
	}

	// Initial liveness probe; a server that cannot answer a ping is not
	// worth publishing.
	if _, err := c.Call(ctx, protocol.MethodPing, nil, queue.Urgent, m.cfg.Heartbeat.Timeout); err != nil {
		c.close()
		return nil, fmt.Errorf("probe %s: %w", sc.Name, err)
	}
	c.setState(SessionActive)
	c.lastHeartbeat.Store(time.Now().UnixNano())

	sess := &Session{
		ID:         uuid.NewString(),
		ServerName: sc.Name,
		CreatedAt:  time.Now(),
		conn:       c,
	}

	m.mu.Lock()
	if existing, ok := m.sessions[sc.Name]; ok {
		// Lost a connect race; keep the first session.
		m.mu.Unlock()
		c.close()
		return existing, nil
	}
	m.sessions[sc.Name] = sess
	m.mu.Unlock()

	m.logger.Info("session established", "server", sc.Name, "session_id", sess.ID)
	return sess, nil
}

// Get returns the session for a server name.
func (m *SessionManager) Get(serverName string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[serverName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, serverName)
	}
	return sess, nil
}

// Names returns the connected server names, sorted.
func (m *SessionManager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status reports the observability snapshot for one server.
func (m *SessionManager) Status(serverName string) (Status, error) {
	sess, err := m.Get(serverName)
	if err != nil {
		return Status{}, err
	}
	return sess.Status(), nil
}

// Disconnect tears down the named session: the heartbeat stops, every
// pending request fails with ErrSessionClosed, and the server's tools and
// subscriptions are dropped via the onClose hook.
func (m *SessionManager) Disconnect(serverName string) error {
	m.mu.Lock()
	sess, ok := m.sessions[serverName]
	if ok {
		delete(m.sessions, serverName)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, serverName)
	}

	sess.conn.close()
	if m.onClose != nil {
		m.onClose(serverName)
	}
	m.logger.Info("session closed", "server", serverName)
	return nil
}

// Close disconnects every session.
func (m *SessionManager) Close() {
	for _, name := range m.Names() {
		_ = m.Disconnect(name)
	}
}
