package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tmaxmax/go-sse"

	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
)

// Paths served by every HTTP-reachable agent. Requests go to RPCPath via
// POST; server-initiated messages (resource updates, pings) arrive on an
// SSE stream at EventsPath.
const (
	RPCPath    = "/rpc"
	EventsPath = "/events"

	// EventMessage is the SSE event type carrying a JSON-RPC message.
	EventMessage = "message"
)

// maxResponseSize bounds an HTTP response body read into memory.
const maxResponseSize = 4 * 1024 * 1024

// HTTP is the client transport for HTTP-reachable agents. Each Send is one
// POST; the response body and all SSE events are fed into the single
// inbound channel so callers see one read path regardless of transport.
type HTTP struct {
	baseURL string
	client  *http.Client
	logger  log.Logger

	inbound chan protocol.Message

	// streamMu serializes inbound writes against the event reader closing
	// the channel: Send holds the read side while routing a reply, the
	// reader takes the write side to mark the stream lost and close.
	streamMu   sync.RWMutex
	streamLost bool

	mu        sync.Mutex
	sseCancel context.CancelFunc
	started   bool

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTP) { t.client = c }
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger log.Logger) HTTPOption {
	return func(t *HTTP) { t.logger = logger }
}

// NewHTTP creates an HTTP transport for the agent at baseURL (scheme and
// host, no path).
func NewHTTP(baseURL string, options ...HTTPOption) *HTTP {
	t := &HTTP{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 0}, // per-request deadlines come from ctx
		logger:  log.NewNop(),
		inbound: make(chan protocol.Message, 16),
		done:    make(chan struct{}),
	}
	for _, opt := range options {
		opt(t)
	}
	return t
}

// Start opens the SSE event stream and returns the inbound channel. A
// failure to open the stream is a connectivity error: the peer is not
// reachable.
func (t *HTTP) Start(ctx context.Context) (<-chan protocol.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return t.inbound, nil
	}

	sseCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(sseCtx, http.MethodGet, t.baseURL+EventsPath, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build events request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.Do(req)
	if err != nil {
		cancel()
		return nil, newError("connect", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, newError("connect", fmt.Errorf("events stream status %d", resp.StatusCode))
	}

	t.sseCancel = cancel
	t.started = true
	t.wg.Add(1)
	go t.readEvents(resp.Body)

	return t.inbound, nil
}

func (t *HTTP) readEvents(body io.ReadCloser) {
	defer t.wg.Done()
	defer body.Close()
	defer t.closeInbound()

	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				t.logger.Warn("event stream ended", "err", err)
			}
			return
		}
		if ev.Type != EventMessage {
			continue
		}

		var msg protocol.Message
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			t.logger.Warn("dropping malformed event", "err", err)
			continue
		}

		select {
		case t.inbound <- msg:
		case <-t.done:
			return
		}
	}
}

// closeInbound marks the event stream lost and closes the inbound channel,
// once no Send is mid-write to it. Sends arriving afterwards fail instead
// of writing to a closed channel.
func (t *HTTP) closeInbound() {
	t.streamMu.Lock()
	defer t.streamMu.Unlock()
	if t.streamLost {
		return
	}
	t.streamLost = true
	close(t.inbound)
}

// deliver routes a POST reply body onto the inbound channel unless the
// event stream is already gone.
func (t *HTTP) deliver(ctx context.Context, msg protocol.Message) error {
	t.streamMu.RLock()
	defer t.streamMu.RUnlock()
	if t.streamLost {
		return newError("send", errors.New("event stream lost"))
	}
	select {
	case t.inbound <- msg:
		return nil
	case <-t.done:
		return newError("send", errors.New("transport closed"))
	case <-ctx.Done():
		return newError("send", ctx.Err())
	}
}

// Send POSTs one message. When the peer replies with a JSON-RPC response
// body it is routed onto the inbound channel, keeping correlation in the
// connection manager's read loop for every transport kind.
func (t *HTTP) Send(ctx context.Context, msg protocol.Message) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+RPCPath, bytes.NewReader(bs))
	if err != nil {
		return fmt.Errorf("build rpc request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return newError("send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return newError("send", fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return newError("send", err)
	}
	if len(bytes.TrimSpace(body)) == 0 {
		// Notifications and accepted-without-body responses.
		return nil
	}

	var reply protocol.Message
	if err := json.Unmarshal(body, &reply); err != nil {
		return newError("send", fmt.Errorf("malformed response body: %w", err))
	}

	return t.deliver(ctx, reply)
}

// Close tears down the SSE stream. Safe to call multiple times.
func (t *HTTP) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.mu.Lock()
		cancel := t.sseCancel
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		done := make(chan struct{})
		go func() {
			t.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.logger.Warn("timed out waiting for event reader shutdown")
		}
	})
	return nil
}
