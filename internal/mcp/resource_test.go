package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/queue"
)

// fakeCaller records upstream subscribe/unsubscribe traffic.
type fakeCaller struct {
	mu      sync.Mutex
	methods []string
	fail    error
}

func (f *fakeCaller) Call(_ context.Context, method string, _ any, _ queue.Priority, _ time.Duration) (protocol.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return protocol.Message{}, f.fail
	}
	f.methods = append(f.methods, method)
	msg, _ := protocol.NewResult("1", struct{}{})
	return msg, nil
}

func (f *fakeCaller) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.methods))
	copy(out, f.methods)
	return out
}

func TestResourceSubscribeOnceUpstream(t *testing.T) {
	m := NewResourceManager(time.Second, log.NewNop())
	sess := &fakeCaller{}
	ctx := context.Background()

	cb := func(string, json.RawMessage) {}

	require.NoError(t, m.Subscribe(ctx, sess, "manager", "league://standings", "ref-1", cb))
	require.NoError(t, m.Subscribe(ctx, sess, "manager", "league://standings", "ref-2", cb))

	// One URI, two local subscribers, exactly one upstream subscribe.
	assert.Equal(t, []string{protocol.MethodResourcesSubscribe}, sess.calls())
}

func TestResourceRepeatSubscribeIdempotent(t *testing.T) {
	m := NewResourceManager(time.Second, log.NewNop())
	sess := &fakeCaller{}
	ctx := context.Background()

	invocations := 0
	cb := func(string, json.RawMessage) { invocations++ }

	require.NoError(t, m.Subscribe(ctx, sess, "manager", "league://standings", "ref-1", cb))
	require.NoError(t, m.Subscribe(ctx, sess, "manager", "league://standings", "ref-1", cb))

	// One registration, one upstream subscribe.
	assert.Equal(t, []string{protocol.MethodResourcesSubscribe}, sess.calls())

	// One notification reaches the subscriber exactly once.
	m.HandleUpdate("league://standings", json.RawMessage(`{"round":1}`))
	assert.Equal(t, 1, invocations)

	// A repeat after an update neither replays the cache nor re-registers.
	require.NoError(t, m.Subscribe(ctx, sess, "manager", "league://standings", "ref-1", cb))
	assert.Equal(t, 1, invocations)

	// Still one local subscriber: the first unsubscribe goes upstream.
	require.NoError(t, m.Unsubscribe(ctx, sess, "league://standings", "ref-1"))
	assert.Equal(t, []string{
		protocol.MethodResourcesSubscribe,
		protocol.MethodResourcesUnsubscribe,
	}, sess.calls())
}

func TestResourceSubscribeUpstreamFailure(t *testing.T) {
	m := NewResourceManager(time.Second, log.NewNop())
	sess := &fakeCaller{fail: errors.New("unreachable")}

	err := m.Subscribe(context.Background(), sess, "manager", "league://standings", "ref-1", func(string, json.RawMessage) {})
	require.Error(t, err)

	// Failed first subscribe leaves no local state; the next attempt goes
	// upstream again.
	sess.fail = nil
	err = m.Subscribe(context.Background(), sess, "manager", "league://standings", "ref-1", func(string, json.RawMessage) {})
	require.NoError(t, err)
	assert.Equal(t, []string{protocol.MethodResourcesSubscribe}, sess.calls())
}

func TestResourceUpdateFanOutAndCache(t *testing.T) {
	m := NewResourceManager(time.Second, log.NewNop())
	sess := &fakeCaller{}
	ctx := context.Background()

	var mu sync.Mutex
	var seen [][]byte
	cb := func(_ string, contents json.RawMessage) {
		mu.Lock()
		seen = append(seen, contents)
		mu.Unlock()
	}

	require.NoError(t, m.Subscribe(ctx, sess, "manager", "league://standings", "ref-1", cb))

	m.HandleUpdate("league://standings", json.RawMessage(`{"round":1}`))
	m.HandleUpdate("league://standings", json.RawMessage(`{"round":2}`))

	mu.Lock()
	require.Len(t, seen, 2)
	assert.JSONEq(t, `{"round":1}`, string(seen[0]))
	assert.JSONEq(t, `{"round":2}`, string(seen[1]))
	mu.Unlock()

	cached, ok := m.LastValue("league://standings")
	require.True(t, ok)
	assert.JSONEq(t, `{"round":2}`, string(cached))
}

func TestResourceLateSubscriberGetsCachedValue(t *testing.T) {
	m := NewResourceManager(time.Second, log.NewNop())
	sess := &fakeCaller{}
	ctx := context.Background()

	err := m.Subscribe(ctx, sess, "manager", "league://standings", "ref-1", func(string, json.RawMessage) {})
	require.NoError(t, err)
	m.HandleUpdate("league://standings", json.RawMessage(`{"round":3}`))

	var got json.RawMessage
	err = m.Subscribe(ctx, sess, "manager", "league://standings", "ref-2", func(_ string, contents json.RawMessage) {
		got = contents
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"round":3}`, string(got))
}

func TestResourceUnsubscribeLastTriggersUpstream(t *testing.T) {
	m := NewResourceManager(time.Second, log.NewNop())
	sess := &fakeCaller{}
	ctx := context.Background()
	cb := func(string, json.RawMessage) {}

	require.NoError(t, m.Subscribe(ctx, sess, "manager", "league://standings", "ref-1", cb))
	require.NoError(t, m.Subscribe(ctx, sess, "manager", "league://standings", "ref-2", cb))

	require.NoError(t, m.Unsubscribe(ctx, sess, "league://standings", "ref-1"))
	assert.Equal(t, []string{protocol.MethodResourcesSubscribe}, sess.calls())

	require.NoError(t, m.Unsubscribe(ctx, sess, "league://standings", "ref-2"))
	assert.Equal(t, []string{
		protocol.MethodResourcesSubscribe,
		protocol.MethodResourcesUnsubscribe,
	}, sess.calls())

	// Unknown subscribers are a no-op.
	require.NoError(t, m.Unsubscribe(ctx, sess, "league://standings", "ref-2"))
	require.NoError(t, m.Unsubscribe(ctx, sess, "league://other", "ref-1"))
}

func TestResourceUpdateWithoutSubscribersDropped(t *testing.T) {
	m := NewResourceManager(time.Second, log.NewNop())

	m.HandleUpdate("league://standings", json.RawMessage(`{}`))
	_, ok := m.LastValue("league://standings")
	assert.False(t, ok)
}

func TestResourceDropServer(t *testing.T) {
	m := NewResourceManager(time.Second, log.NewNop())
	sess := &fakeCaller{}
	ctx := context.Background()

	err := m.Subscribe(ctx, sess, "manager", "league://standings", "ref-1", func(string, json.RawMessage) {})
	require.NoError(t, err)
	err = m.Subscribe(ctx, sess, "referee", "league://matches", "ref-1", func(string, json.RawMessage) {})
	require.NoError(t, err)

	m.DropServer("manager")

	_, ok := m.ServerFor("league://standings")
	assert.False(t, ok)
	server, ok := m.ServerFor("league://matches")
	require.True(t, ok)
	assert.Equal(t, "referee", server)
}
