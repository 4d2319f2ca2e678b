// Package protocol defines the JSON-RPC 2.0 wire types and MCP method names
// shared by every agent in the league. The types here are pure data: framing
// lives in internal/transport, policy (retries, breakers, priorities) lives
// in internal/mcp.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version is the JSON-RPC protocol version carried in every message.
const Version = "2.0"

// MCP method names understood by league agents. Capability negotiation
// beyond tool invocation and resource subscription is deliberately not
// implemented; a session is considered live once a ping round-trips.
const (
	MethodPing                 = "ping"
	MethodToolsList            = "tools/list"
	MethodToolsCall            = "tools/call"
	MethodResourcesSubscribe   = "resources/subscribe"
	MethodResourcesUnsubscribe = "resources/unsubscribe"

	// NotificationResourceUpdated is sent server-to-client when a
	// subscribed resource changes. Params are ResourceUpdatedParams.
	NotificationResourceUpdated = "notifications/resources/updated"
)

// Message is a JSON-RPC 2.0 request, response, or notification.
//
// A request has ID and Method set. A response has ID and exactly one of
// Result or Error. A notification has Method but no ID and expects no reply.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsResponse reports whether the message is a reply to an earlier request.
func (m Message) IsResponse() bool {
	return m.Method == "" && m.ID != ""
}

// IsNotification reports whether the message is a fire-and-forget
// notification (no reply expected).
func (m Message) IsNotification() bool {
	return m.Method != "" && m.ID == ""
}

// IsRequest reports whether the message expects a response.
func (m Message) IsRequest() bool {
	return m.Method != "" && m.ID != ""
}

// NewRequest builds a request message. params may be nil for methods that
// take no parameters (such as ping).
func NewRequest(id, method string, params any) (Message, error) {
	msg := Message{JSONRPC: Version, ID: id, Method: method}
	if params != nil {
		bs, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("marshal params for %s: %w", method, err)
		}
		msg.Params = bs
	}
	return msg, nil
}

// NewNotification builds a notification message.
func NewNotification(method string, params any) (Message, error) {
	msg, err := NewRequest("", method, params)
	if err != nil {
		return Message{}, err
	}
	return msg, nil
}

// NewResult builds a success response for the given request ID.
func NewResult(id string, result any) (Message, error) {
	bs, err := json.Marshal(result)
	if err != nil {
		return Message{}, fmt.Errorf("marshal result: %w", err)
	}
	return Message{JSONRPC: Version, ID: id, Result: bs}, nil
}

// NewErrorResponse builds an error response for the given request ID.
func NewErrorResponse(id string, code int, message string) Message {
	return Message{
		JSONRPC: Version,
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}
