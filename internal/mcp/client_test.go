package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityleague/league/internal/config"
	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/testutil"
	"github.com/parityleague/league/internal/transport"
)

// echoServer builds an agent-side server with an echo tool and one
// subscribable resource.
func echoServer(t *testing.T) *Server {
	t.Helper()
	s := NewServer("referee", log.NewNop())

	err := s.RegisterTool("echo", "returns its arguments", nil,
		func(_ context.Context, args json.RawMessage) (json.RawMessage, error) {
			if args == nil {
				return json.RawMessage(`null`), nil
			}
			return args, nil
		})
	require.NoError(t, err)

	err = s.RegisterTool("always_fails", "reports an in-band failure", nil,
		func(context.Context, json.RawMessage) (json.RawMessage, error) {
			return nil, fmt.Errorf("boom")
		})
	require.NoError(t, err)

	require.NoError(t, s.RegisterResource("league://standings", map[string]int{"round": 0}))
	return s
}

// startHTTPAgent serves the agent over a real HTTP listener and returns a
// client connected to it through the HTTP transport.
func startHTTPAgent(t *testing.T, s *Server) *Client {
	t.Helper()

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	dialer := func(config.ServerConfig) (transport.Transport, error) {
		return transport.NewHTTP(ts.URL), nil
	}
	client := NewClient(testConfig(), dialer, log.NewNop())
	t.Cleanup(client.Close)

	require.NoError(t, client.Connect(context.Background(),
		config.ServerConfig{Name: "referee", Kind: "http", URL: ts.URL}))
	return client
}

func TestClientConnectDiscoversTools(t *testing.T) {
	client := startHTTPAgent(t, echoServer(t))

	tools := client.ListTools()
	require.Len(t, tools, 2)
	assert.Equal(t, "referee.always_fails", tools[0].Namespaced)
	assert.Equal(t, "referee.echo", tools[1].Namespaced)

	status, err := client.SessionStatus("referee")
	require.NoError(t, err)
	assert.Equal(t, SessionActive, status.State)
	assert.Equal(t, BreakerClosed, status.Circuit)
}

func TestClientCallTool(t *testing.T) {
	client := startHTTPAgent(t, echoServer(t))

	content, err := client.CallTool(context.Background(), "referee.echo",
		map[string]string{"hello": "league"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"league"}`, string(content))

	// Unqualified resolution works while the name is unique.
	content, err = client.CallTool(context.Background(), "echo", 42)
	require.NoError(t, err)
	assert.JSONEq(t, `42`, string(content))
}

func TestClientCallToolInBandFailure(t *testing.T) {
	client := startHTTPAgent(t, echoServer(t))

	_, err := client.CallTool(context.Background(), "referee.always_fails", nil)
	require.ErrorIs(t, err, ErrToolFailed)
	assert.Contains(t, err.Error(), "boom")
}

func TestClientCallUnknownTool(t *testing.T) {
	client := startHTTPAgent(t, echoServer(t))

	_, err := client.CallTool(context.Background(), "referee.nope", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestClientResourceSubscription(t *testing.T) {
	server := echoServer(t)
	client := startHTTPAgent(t, server)

	updates := make(chan json.RawMessage, 8)
	err := client.SubscribeResource(context.Background(), "referee", "league://standings", "watcher",
		func(_ string, contents json.RawMessage) { updates <- contents })
	require.NoError(t, err)

	// Subscribing warms the cache with the current value.
	select {
	case contents := <-updates:
		assert.JSONEq(t, `{"round":0}`, string(contents))
	case <-time.After(2 * time.Second):
		t.Fatal("no initial resource value received")
	}

	require.NoError(t, server.UpdateResource("league://standings", map[string]int{"round": 1}))
	select {
	case contents := <-updates:
		assert.JSONEq(t, `{"round":1}`, string(contents))
	case <-time.After(2 * time.Second):
		t.Fatal("no resource update received")
	}

	cached, ok := client.ResourceValue("league://standings")
	require.True(t, ok)
	assert.JSONEq(t, `{"round":1}`, string(cached))

	require.NoError(t, client.UnsubscribeResource(context.Background(), "league://standings", "watcher"))
}

func TestClientDisconnectDropsServerState(t *testing.T) {
	client := startHTTPAgent(t, echoServer(t))

	require.NoError(t, client.Disconnect("referee"))

	assert.Empty(t, client.ListTools())
	_, err := client.CallTool(context.Background(), "referee.echo", nil)
	assert.ErrorIs(t, err, ErrToolNotFound)
	_, err = client.SessionStatus("referee")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestClientAmbiguousToolAcrossServers(t *testing.T) {
	ts1 := httptest.NewServer(echoServer(t).Handler())
	t.Cleanup(ts1.Close)
	ts2 := httptest.NewServer(echoServer(t).Handler())
	t.Cleanup(ts2.Close)

	urls := map[string]string{"referee-a": ts1.URL, "referee-b": ts2.URL}
	dialer := func(sc config.ServerConfig) (transport.Transport, error) {
		return transport.NewHTTP(urls[sc.Name]), nil
	}
	client := NewClient(testConfig(), dialer, log.NewNop())
	t.Cleanup(client.Close)

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx, config.ServerConfig{Name: "referee-a", Kind: "http", URL: ts1.URL}))
	require.NoError(t, client.Connect(ctx, config.ServerConfig{Name: "referee-b", Kind: "http", URL: ts2.URL}))

	_, err := client.CallTool(ctx, "echo", nil)
	require.ErrorIs(t, err, ErrAmbiguousTool)

	// Qualification disambiguates.
	_, err = client.CallTool(ctx, "referee-a.echo", nil)
	assert.NoError(t, err)
}

// TestClientOverStream runs the whole stack over a line-framed byte stream,
// the transport used for child process agents.
func TestClientOverStream(t *testing.T) {
	server := echoServer(t)

	clientReader, serverWriter := io.Pipe()
	serverReader, clientWriter := io.Pipe()

	serveCtx, stopServe := context.WithCancel(context.Background())
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = server.ServeStream(serveCtx, serverReader, serverWriter)
	}()
	t.Cleanup(func() {
		stopServe()
		_ = serverReader.Close()
		_ = serverWriter.Close()
		<-served
	})

	dialer := func(config.ServerConfig) (transport.Transport, error) {
		return transport.NewStream(clientReader, clientWriter), nil
	}
	client := NewClient(testConfig(), dialer, log.NewNop())
	t.Cleanup(client.Close)

	ctx := context.Background()
	require.NoError(t, client.Connect(ctx,
		config.ServerConfig{Name: "referee", Kind: "stdio", Command: "unused"}))

	content, err := client.CallTool(ctx, "referee.echo", map[string]int{"n": 7})
	require.NoError(t, err)
	assert.JSONEq(t, `{"n":7}`, string(content))
}

func TestClientCallOptionDefaults(t *testing.T) {
	var sawTimeout atomic.Int64

	tr := testutil.NewFakeTransport()
	tr.Responder = func(msg protocol.Message) *protocol.Message {
		if msg.ID == "" {
			return nil
		}
		var reply protocol.Message
		if msg.Method == protocol.MethodToolsList {
			reply, _ = protocol.NewResult(msg.ID, protocol.ListToolsResult{
				Tools: []protocol.ToolInfo{{Name: "slow"}},
			})
		} else {
			reply, _ = protocol.NewResult(msg.ID, struct{}{})
		}
		return &reply
	}
	dialer := func(config.ServerConfig) (transport.Transport, error) { return tr, nil }

	cfg := testConfig()
	cfg.Call.Timeout = 40 * time.Millisecond
	client := NewClient(cfg, dialer, log.NewNop())
	t.Cleanup(client.Close)

	require.NoError(t, client.Connect(context.Background(), serverConfig("referee")))

	// Let calls time out to observe the effective deadline.
	tr.DropResponses.Store(true)

	start := time.Now()
	_, err := client.CallTool(context.Background(), "referee.slow", nil)
	sawTimeout.Store(int64(time.Since(start)))
	require.ErrorIs(t, err, ErrCallTimeout)
	assert.Less(t, time.Duration(sawTimeout.Load()), 500*time.Millisecond)

	start = time.Now()
	_, err = client.CallTool(context.Background(), "referee.slow", nil, WithTimeout(10*time.Millisecond))
	require.ErrorIs(t, err, ErrCallTimeout)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
