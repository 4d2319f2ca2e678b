package protocol

import (
	"encoding/json"

	"github.com/google/jsonschema-go/jsonschema"
)

// CallToolParams are the parameters of a tools/call request. Name is the
// raw (unqualified) tool name as the serving agent registered it; the
// server-qualified namespacing is a client-side concern.
type CallToolParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// CallToolResult is the result of a tools/call request. Content is opaque
// to the communication layer. IsError marks a tool-level failure that the
// serving agent chose to report in-band rather than as an RPC error.
type CallToolResult struct {
	Content json.RawMessage `json:"content"`
	IsError bool            `json:"isError,omitempty"`
}

// ToolInfo describes one tool exposed by a server, as returned by
// tools/list.
type ToolInfo struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of a tools/list request.
type ListToolsResult struct {
	Tools []ToolInfo `json:"tools"`
}

// SubscribeResourceParams are the parameters of resources/subscribe and
// resources/unsubscribe requests.
type SubscribeResourceParams struct {
	URI string `json:"uri"`
}

// ResourceUpdatedParams are the parameters of a
// notifications/resources/updated notification. Contents carries the new
// value so subscribers do not need a follow-up read.
type ResourceUpdatedParams struct {
	URI      string          `json:"uri"`
	Contents json.RawMessage `json:"contents,omitempty"`
}
