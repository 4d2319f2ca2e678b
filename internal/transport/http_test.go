package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parityleague/league/internal/protocol"
)

// rpcEcho answers every POST /rpc with a fixed JSON-RPC result and lets the
// test control how long GET /events stays open.
func rpcEcho(events func(w http.ResponseWriter, r *http.Request)) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+EventsPath, events)
	mux.HandleFunc("POST "+RPCPath, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":"1","result":{}}`)
	})
	return mux
}

func TestHTTPSendRoutesReplyInbound(t *testing.T) {
	ts := httptest.NewServer(rpcEcho(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer ts.Close()

	tr := NewHTTP(ts.URL)
	inbound, err := tr.Start(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	msg, err := protocol.NewRequest("1", protocol.MethodPing, nil)
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), msg))

	select {
	case reply := <-inbound:
		assert.Equal(t, "1", reply.ID)
		assert.True(t, reply.IsResponse())
	case <-time.After(2 * time.Second):
		t.Fatal("reply not routed to inbound channel")
	}
}

func TestHTTPSendAfterEventStreamLoss(t *testing.T) {
	// The event stream ends as soon as it opens, simulating a peer restart.
	// POST /rpc keeps answering normally.
	ts := httptest.NewServer(rpcEcho(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	tr := NewHTTP(ts.URL)
	inbound, err := tr.Start(context.Background())
	require.NoError(t, err)
	defer tr.Close()

	// Wait for the reader to notice the stream is gone.
	select {
	case _, ok := <-inbound:
		require.False(t, ok, "expected inbound channel to close")
	case <-time.After(2 * time.Second):
		t.Fatal("inbound channel never closed")
	}

	msg, err := protocol.NewRequest("1", protocol.MethodPing, nil)
	require.NoError(t, err)

	// The POST succeeds server-side, but the reply has nowhere to go: Send
	// must report a connectivity error rather than panic.
	err = tr.Send(context.Background(), msg)
	require.Error(t, err)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "send", te.Op)
}
