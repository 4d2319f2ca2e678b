package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/tmaxmax/go-sse"

	"github.com/parityleague/league/internal/log"
	"github.com/parityleague/league/internal/protocol"
	"github.com/parityleague/league/internal/transport"
)

// ToolHandler executes one tool invocation. A returned error becomes an
// in-band tool failure (CallToolResult.IsError); the RPC itself succeeds.
type ToolHandler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

type serverTool struct {
	info    protocol.ToolInfo
	handler ToolHandler
}

// Server is the agent-side endpoint: it exposes tools and resources over
// both transports the league uses: HTTP (POST /rpc plus an SSE event
// stream) and line-framed streams for child processes.
//
// Resource updates are broadcast to every connected event stream; clients
// that never subscribed drop them locally.
type Server struct {
	name   string
	logger log.Logger

	mu         sync.RWMutex
	tools      map[string]serverTool
	resources  map[string]json.RawMessage
	subscribed map[string]int // uri -> subscriber count across peers

	peersMu  sync.Mutex
	peers    map[int64]chan protocol.Message
	nextPeer int64
}

// NewServer creates an empty server for the named agent.
func NewServer(name string, logger log.Logger) *Server {
	return &Server{
		name:       name,
		logger:     logger.With("agent", name),
		tools:      make(map[string]serverTool),
		resources:  make(map[string]json.RawMessage),
		subscribed: make(map[string]int),
		peers:      make(map[int64]chan protocol.Message),
	}
}

// RegisterTool exposes a tool under its raw name. Re-registering replaces
// the handler; callers rely on that for hot restarts of match logic.
func (s *Server) RegisterTool(name, description string, schema *jsonschema.Schema, h ToolHandler) error {
	if name == "" || h == nil {
		return fmt.Errorf("register tool: name and handler required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[name] = serverTool{
		info:    protocol.ToolInfo{Name: name, Description: description, InputSchema: schema},
		handler: h,
	}
	return nil
}

// RegisterResource makes a resource URI subscribable with an initial value.
func (s *Server) RegisterResource(uri string, contents any) error {
	bs, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("register resource %s: %w", uri, err)
	}
	s.mu.Lock()
	s.resources[uri] = bs
	s.mu.Unlock()
	return nil
}

// UpdateResource stores the new value and, when anyone is subscribed,
// pushes a resources/updated notification to every connected peer.
func (s *Server) UpdateResource(uri string, contents any) error {
	bs, err := json.Marshal(contents)
	if err != nil {
		return fmt.Errorf("update resource %s: %w", uri, err)
	}

	s.mu.Lock()
	if _, ok := s.resources[uri]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("update resource %s: not registered", uri)
	}
	s.resources[uri] = bs
	notify := s.subscribed[uri] > 0
	s.mu.Unlock()

	if notify {
		s.notifyUpdate(uri, bs)
	}
	return nil
}

func (s *Server) notifyUpdate(uri string, contents json.RawMessage) {
	msg, err := protocol.NewNotification(protocol.NotificationResourceUpdated,
		protocol.ResourceUpdatedParams{URI: uri, Contents: contents})
	if err != nil {
		s.logger.Error("encode resource update", "uri", uri, "err", err)
		return
	}
	s.broadcast(msg)
}

func (s *Server) broadcast(msg protocol.Message) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	for id, ch := range s.peers {
		select {
		case ch <- msg:
		default:
			s.logger.Warn("dropping notification for slow peer", "peer", id, "method", msg.Method)
		}
	}
}

func (s *Server) addPeer() (int64, chan protocol.Message) {
	s.peersMu.Lock()
	defer s.peersMu.Unlock()
	s.nextPeer++
	id := s.nextPeer
	ch := make(chan protocol.Message, 16)
	s.peers[id] = ch
	return id, ch
}

func (s *Server) removePeer(id int64) {
	s.peersMu.Lock()
	delete(s.peers, id)
	s.peersMu.Unlock()
}

// Handle processes one inbound message and returns the reply, or nil when
// none is owed (notifications).
func (s *Server) Handle(ctx context.Context, msg protocol.Message) *protocol.Message {
	if msg.IsNotification() {
		s.logger.Debug("notification received", "method", msg.Method)
		return nil
	}
	if !msg.IsRequest() {
		// A stray response; nothing to correlate it against here.
		return nil
	}

	var reply protocol.Message
	switch msg.Method {
	case protocol.MethodPing:
		reply, _ = protocol.NewResult(msg.ID, struct{}{})
	case protocol.MethodToolsList:
		reply = s.handleListTools(msg)
	case protocol.MethodToolsCall:
		reply = s.handleCallTool(ctx, msg)
	case protocol.MethodResourcesSubscribe:
		reply = s.handleSubscribe(msg, true)
	case protocol.MethodResourcesUnsubscribe:
		reply = s.handleSubscribe(msg, false)
	default:
		reply = protocol.NewErrorResponse(msg.ID, protocol.CodeMethodNotFound, "unsupported method: "+msg.Method)
	}
	return &reply
}

func (s *Server) handleListTools(msg protocol.Message) protocol.Message {
	s.mu.RLock()
	infos := make([]protocol.ToolInfo, 0, len(s.tools))
	for _, t := range s.tools {
		infos = append(infos, t.info)
	}
	s.mu.RUnlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	reply, err := protocol.NewResult(msg.ID, protocol.ListToolsResult{Tools: infos})
	if err != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.CodeInternalError, err.Error())
	}
	return reply
}

func (s *Server) handleCallTool(ctx context.Context, msg protocol.Message) protocol.Message {
	var params protocol.CallToolParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.CodeInvalidParams, "malformed tools/call params")
	}

	s.mu.RLock()
	t, ok := s.tools[params.Name]
	s.mu.RUnlock()
	if !ok {
		return protocol.NewErrorResponse(msg.ID, protocol.CodeToolNotFound, "unknown tool: "+params.Name)
	}

	content, err := t.handler(ctx, params.Arguments)
	result := protocol.CallToolResult{Content: content}
	if err != nil {
		s.logger.Warn("tool failed", "tool", params.Name, "err", err)
		result.IsError = true
		if result.Content == nil {
			result.Content, _ = json.Marshal(err.Error())
		}
	}
	reply, merr := protocol.NewResult(msg.ID, result)
	if merr != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.CodeInternalError, merr.Error())
	}
	return reply
}

func (s *Server) handleSubscribe(msg protocol.Message, subscribe bool) protocol.Message {
	var params protocol.SubscribeResourceParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.CodeInvalidParams, "malformed resource params")
	}

	s.mu.Lock()
	current, ok := s.resources[params.URI]
	if !ok {
		s.mu.Unlock()
		return protocol.NewErrorResponse(msg.ID, protocol.CodeResourceNotFound, "unknown resource: "+params.URI)
	}
	if subscribe {
		s.subscribed[params.URI]++
	} else if s.subscribed[params.URI] > 0 {
		s.subscribed[params.URI]--
	}
	s.mu.Unlock()

	if subscribe {
		// Warm the new subscriber's cache with the current value. Broadcast
		// is harmless: existing subscribers just see a redundant update.
		s.notifyUpdate(params.URI, current)
	}

	reply, err := protocol.NewResult(msg.ID, struct{}{})
	if err != nil {
		return protocol.NewErrorResponse(msg.ID, protocol.CodeInternalError, err.Error())
	}
	return reply
}

// Handler returns the HTTP surface: POST /rpc for requests, GET /events for
// the SSE notification stream. Counterpart of transport.HTTP.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+transport.RPCPath, s.handleRPC)
	mux.HandleFunc("GET "+transport.EventsPath, s.handleEvents)
	return mux
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var msg protocol.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "malformed JSON-RPC message", http.StatusBadRequest)
		return
	}

	reply := s.Handle(r.Context(), msg)
	if reply == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(reply); err != nil {
		s.logger.Warn("write rpc response", "err", err)
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := sse.Upgrade(w, r)
	if err != nil {
		http.Error(w, "SSE upgrade failed", http.StatusInternalServerError)
		return
	}

	id, ch := s.addPeer()
	defer s.removePeer(id)
	s.logger.Debug("event stream opened", "peer", id)

	for {
		select {
		case <-r.Context().Done():
			return
		case msg := <-ch:
			bs, err := json.Marshal(msg)
			if err != nil {
				s.logger.Error("encode event", "err", err)
				continue
			}
			ev := &sse.Message{Type: sse.Type(transport.EventMessage)}
			ev.AppendData(string(bs))
			if err := sess.Send(ev); err != nil {
				return
			}
			if err := sess.Flush(); err != nil {
				return
			}
		}
	}
}

// ServeStream speaks the line-framed protocol over a byte stream until EOF
// or context cancellation. Counterpart of transport.Stream; used for child
// process agents on stdin/stdout.
func (s *Server) ServeStream(ctx context.Context, r io.Reader, w io.Writer) error {
	id, ch := s.addPeer()
	defer s.removePeer(id)

	var writeMu sync.Mutex
	writeMsg := func(msg protocol.Message) error {
		bs, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err = w.Write(append(bs, '\n'))
		return err
	}

	notifyCtx, stopNotify := context.WithCancel(ctx)
	defer stopNotify()
	go func() {
		for {
			select {
			case <-notifyCtx.Done():
				return
			case msg := <-ch:
				if err := writeMsg(msg); err != nil {
					s.logger.Warn("write stream notification", "err", err)
					return
				}
			}
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg protocol.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Warn("dropping malformed frame", "err", err)
			continue
		}
		if reply := s.Handle(ctx, msg); reply != nil {
			if err := writeMsg(*reply); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
		}
	}
	return scanner.Err()
}
