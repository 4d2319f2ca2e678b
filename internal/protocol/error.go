package protocol

import "fmt"

// JSON-RPC 2.0 error codes. Codes in the -32000 range are
// implementation-defined and used for league application errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeToolNotFound     = -32000
	CodeResourceNotFound = -32001
	CodeToolFailed       = -32002
)

// Error is a JSON-RPC 2.0 error object. It implements the error interface
// so a decoded error response can be returned directly to callers.
//
// An *Error is a permanent failure: the request was delivered and the peer
// rejected it, so retrying the identical request cannot succeed. The
// connection manager never consumes retry budget on it.
type Error struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
