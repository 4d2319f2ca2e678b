package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/queue"
	"github.com/parityleague/league/internal/transport"
)

// notificationHandler receives inbound server notifications off the
// routing queue, so a slow handler can never block the read loop.
type notificationHandler func(serverName, method string, params json.RawMessage)

// conn is the connection manager for one session: it owns the transport,
// applies breaker/backoff policy around every call, correlates responses
// to pending requests, and runs the heartbeat monitor.
//
// Goroutines per conn: dispatchLoop drains the outbound queue and spawns
// one executor per message (retry sleeps happen there, so a backing-off
// call never delays an URGENT heartbeat); readLoop is the only code that
// touches the transport's inbound channel; notifyLoop drains the inbound
// queue into the notification handler; heartbeatLoop probes liveness.
type conn struct {
	serverName string
	tr         transport.Transport
	logger     log.Logger

	breaker *breaker
	backoff backoff
	limiter *rate.Limiter

	outbound *queue.Queue
	inbound  *queue.Queue

	maxAttempts  int
	writeTimeout time.Duration
	hb           config.HeartbeatConfig
	givingUp     time.Duration

	onNotification notificationHandler
	// onDead is invoked at most once when the session has spent the
	// giving-up window under an open circuit with no successful probe.
	// The session manager wires it to Disconnect.
	onDead     func()
	onDeadOnce sync.Once

	mu      sync.Mutex
	pending map[string]*pendingRequest
	closed  bool

	state         atomic.Int32 // SessionState
	lastHeartbeat atomic.Int64 // unix nanos; zero until the first success

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newConn(serverName string, tr transport.Transport, cfg *config.Config, handler notificationHandler, logger log.Logger) *conn {
	var limiter *rate.Limiter
	if cfg.Call.DispatchRate > 0 {
		burst := cfg.Call.DispatchBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Call.DispatchRate), burst)
	}

	c := &conn{
		serverName:      serverName,
		tr:              tr,
		logger:          logger.With("server", serverName),
		breaker:         newBreaker(cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.RecoveryTimeout),
		backoff:         newBackoff(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay),
		limiter:         limiter,
		outbound:        queue.New(),
		inbound:         queue.New(),
		maxAttempts:     cfg.Retry.MaxAttempts,
		writeTimeout:    cfg.Call.Timeout,
		hb:              cfg.Heartbeat,
		givingUp:        cfg.CircuitBreaker.GivingUpTimeout,
		onNotification:  handler,
		pending:         make(map[string]*pendingRequest),
	}
	c.state.Store(int32(SessionConnecting))
	return c
}

// start launches the transport and all per-session loops. The supplied
// context bounds transport startup only; loop lifetime is governed by
// close.
func (c *conn) start(ctx context.Context) error {
	inboundCh, err := c.tr.Start(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.wg.Add(4)
	go c.dispatchLoop(runCtx)
	go c.readLoop(runCtx, inboundCh)
	go c.notifyLoop(runCtx)
	go c.heartbeatLoop(runCtx)
	return nil
}

// Call issues one request and blocks until it resolves: by response,
// deadline, context cancellation, or session closure. Every path yields
// exactly one outcome.
func (c *conn) Call(ctx context.Context, method string, params any, priority queue.Priority, timeout time.Duration) (protocol.Message, error) {
	// Fail fast while the breaker rejects, before enqueueing anything.
	// This is a read-only check: probe admission belongs to the executor.
	if c.breaker.Rejects() {
		return protocol.Message{}, ErrCircuitOpen
	}

	msg, err := protocol.NewRequest(uuid.NewString(), method, params)
	if err != nil {
		return protocol.Message{}, err
	}

	p := newPendingRequest(msg.ID, priority, time.Now().Add(timeout))
	if err := c.register(p); err != nil {
		return protocol.Message{}, err
	}
	defer c.unregister(p.id)

	qm := queue.Message{ID: msg.ID, Priority: priority, Direction: queue.Outbound, Msg: msg}
	if err := c.outbound.Enqueue(qm); err != nil {
		return protocol.Message{}, ErrSessionClosed
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out outcome
	select {
	case out = <-p.done:
	case <-timer.C:
		p.resolve(protocol.Message{}, ErrCallTimeout)
		out = <-p.done
	case <-ctx.Done():
		// Cooperative cancellation resolves locally; an in-flight
		// transport attempt is abandoned best-effort.
		p.resolve(protocol.Message{}, ctx.Err())
		out = <-p.done
	}

	if errors.Is(out.err, ErrCallTimeout) {
		// Deadline expiry is a transient failure of this endpoint and
		// feeds the breaker exactly once, here, by the resolving path.
		c.breaker.RecordFailure()
	}
	return out.msg, out.err
}

// Notify sends a fire-and-forget notification through the queue.
func (c *conn) Notify(method string, params any, priority queue.Priority) error {
	msg, err := protocol.NewNotification(method, params)
	if err != nil {
		return err
	}
	qm := queue.Message{ID: uuid.NewString(), Priority: priority, Direction: queue.Outbound, Msg: msg}
	if err := c.outbound.Enqueue(qm); err != nil {
		return ErrSessionClosed
	}
	return nil
}

func (c *conn) register(p *pendingRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrSessionClosed
	}
	c.pending[p.id] = p
	return nil
}

func (c *conn) unregister(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *conn) lookup(id string) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[id]
}

func (c *conn) resolvePending(id string, msg protocol.Message, err error) {
	if p := c.lookup(id); p != nil {
		p.resolve(msg, err)
	}
}

// dispatchLoop drains the outbound queue in priority order and hands each
// message to its own executor goroutine.
func (c *conn) dispatchLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		qm, err := c.outbound.Dequeue(ctx)
		if err != nil {
			return
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.resolvePending(qm.ID, protocol.Message{}, ErrSessionClosed)
				return
			}
		}
		c.wg.Add(1)
		go c.execute(ctx, qm)
	}
}

// execute performs the transport attempts for one message, applying
// breaker admission and retry/backoff policy. Responses are not awaited
// here; the read loop correlates them back to the pending request.
func (c *conn) execute(ctx context.Context, qm queue.Message) {
	defer c.wg.Done()

	p := c.lookup(qm.ID) // nil for notifications

	for attempt := 0; ; attempt++ {
		if p != nil && p.resolved() {
			return
		}

		if err := c.breaker.Allow(); err != nil {
			c.resolvePending(qm.ID, protocol.Message{}, err)
			return
		}

		sendCtx, cancel := c.attemptContext(ctx, p)
		err := c.tr.Send(sendCtx, qm.Msg)
		cancel()
		if err == nil {
			return
		}

		c.breaker.RecordFailure()

		if !Transient(err) || attempt+1 >= c.maxAttempts {
			c.resolvePending(qm.ID, protocol.Message{}, err)
			return
		}

		delay := c.backoff.Delay(attempt)
		c.logger.Debug("retrying after transient failure",
			"method", qm.Msg.Method, "attempt", attempt+1, "delay", delay, "err", err)
		select {
		case <-ctx.Done():
			c.resolvePending(qm.ID, protocol.Message{}, ErrSessionClosed)
			return
		case <-time.After(delay):
		}
	}
}

func (c *conn) attemptContext(ctx context.Context, p *pendingRequest) (context.Context, context.CancelFunc) {
	if p != nil {
		return context.WithDeadline(ctx, p.deadline)
	}
	return context.WithTimeout(ctx, c.writeTimeout)
}

// readLoop is the only consumer of the transport's inbound channel. It
// routes responses by correlation id and queues notifications for the
// notify loop, so subscriber callbacks can never stall reads.
func (c *conn) readLoop(ctx context.Context, inboundCh <-chan protocol.Message) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-inboundCh:
			if !ok {
				if c.State() == SessionActive {
					c.setState(SessionDegraded)
					c.logger.Warn("inbound stream lost")
				}
				return
			}
			c.route(ctx, msg)
		}
	}
}

func (c *conn) route(ctx context.Context, msg protocol.Message) {
	switch {
	case msg.IsResponse():
		// A response, success or in-band error, proves the endpoint is
		// reachable and answering.
		c.breaker.RecordSuccess()
		if msg.Error != nil {
			c.resolvePending(msg.ID, protocol.Message{}, msg.Error)
			return
		}
		c.resolvePending(msg.ID, msg, nil)

	case msg.IsNotification():
		qm := queue.Message{
			ID:        uuid.NewString(),
			Priority:  queue.High,
			Direction: queue.Inbound,
			Msg:       msg,
		}
		if err := c.inbound.Enqueue(qm); err != nil {
			c.logger.Warn("dropping inbound notification", "method", msg.Method, "err", err)
		}

	case msg.IsRequest():
		// Peers may probe us; anything else is unsupported on the
		// client side of a session.
		go c.answerRequest(ctx, msg)
	}
}

func (c *conn) answerRequest(ctx context.Context, msg protocol.Message) {
	sendCtx, cancel := context.WithTimeout(ctx, c.writeTimeout)
	defer cancel()

	var reply protocol.Message
	if msg.Method == protocol.MethodPing {
		reply, _ = protocol.NewResult(msg.ID, struct{}{})
	} else {
		reply = protocol.NewErrorResponse(msg.ID, protocol.CodeMethodNotFound, "unsupported method: "+msg.Method)
	}
	if err := c.tr.Send(sendCtx, reply); err != nil {
		c.logger.Warn("failed to answer peer request", "method", msg.Method, "err", err)
	}
}

// notifyLoop drains the inbound queue into the notification handler,
// preserving arrival order for a given session.
func (c *conn) notifyLoop(ctx context.Context) {
	defer c.wg.Done()
	for {
		qm, err := c.inbound.Dequeue(ctx)
		if err != nil {
			return
		}
		if c.onNotification != nil {
			c.onNotification(c.serverName, qm.Msg.Method, qm.Msg.Params)
		}
	}
}

// heartbeatLoop sends periodic pings at URGENT priority so liveness
// detection is never starved by application traffic. Heartbeat timeouts
// feed the breaker through the ordinary Call path; this loop only tracks
// the consecutive-failure count that degrades the session.
func (c *conn) heartbeatLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.hb.Interval)
	defer ticker.Stop()

	failures := 0
	lastSuccess := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := c.Call(ctx, protocol.MethodPing, nil, queue.Urgent, c.hb.Timeout)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				failures++
				c.logger.Warn("heartbeat failed", "consecutive", failures, "err", err)
				if failures >= c.hb.FailureThreshold && c.State() == SessionActive {
					c.setState(SessionDegraded)
				}
				if c.givingUp > 0 && time.Since(lastSuccess) >= c.givingUp {
					if state, _ := c.breaker.Snapshot(); state == BreakerOpen {
						c.logger.Error("giving up on session", "window", c.givingUp)
						c.onDeadOnce.Do(func() {
							if c.onDead != nil {
								go c.onDead()
							}
						})
						return
					}
				}
				continue
			}
			lastSuccess = time.Now()
			failures = 0
			c.lastHeartbeat.Store(time.Now().UnixNano())
			if c.State() == SessionDegraded {
				c.setState(SessionActive)
				c.logger.Info("session recovered")
			}
		}
	}
}

// State returns the current session state.
func (c *conn) State() SessionState {
	return SessionState(c.state.Load())
}

func (c *conn) setState(s SessionState) {
	c.state.Store(int32(s))
}

// LastHeartbeat returns the time of the last successful heartbeat, zero if
// none has succeeded yet.
func (c *conn) LastHeartbeat() time.Time {
	n := c.lastHeartbeat.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// close tears the connection down: stops all loops, closes both queues and
// the transport, and fails every pending request with ErrSessionClosed.
// Idempotent.
func (c *conn) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	pendings := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		pendings = append(pendings, p)
	}
	c.mu.Unlock()

	c.outbound.Close()
	c.inbound.Close()
	if c.cancel != nil {
		c.cancel()
	}
	for _, p := range pendings {
		p.resolve(protocol.Message{}, ErrSessionClosed)
	}
	_ = c.tr.Close()
	c.wg.Wait()
	c.setState(SessionClosed)
}
