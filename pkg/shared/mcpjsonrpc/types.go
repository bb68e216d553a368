package mcpjsonrpc

import "encoding/json"

// Based on JSON-RPC 2.0 Specification: https://www.jsonrpc.org/specification

// Version is the only protocol version this package speaks.
const Version = "2.0"

// Request represents a JSON-RPC request object. ID is kept raw so responses
// can echo it unchanged.
type Request struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	Method  string          `json:"method"`           // Method to be invoked
	Params  json.RawMessage `json:"params,omitempty"` // Parameters (structured value or array)
	ID      json.RawMessage `json:"id,omitempty"`     // Absent for notifications
}

// IsNotification reports whether the request carries no id.
func (r Request) IsNotification() bool {
	return len(r.ID) == 0
}

// Response represents a JSON-RPC response object.
type Response struct {
	Version string          `json:"jsonrpc"`          // MUST be "2.0"
	Result  any             `json:"result,omitempty"` // Required on success
	Error   *Error          `json:"error,omitempty"`  // Required on error
	ID      json.RawMessage `json:"id"`               // Must match request ID (or null if could not be determined)
}

// Error represents a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`           // Error code
	Message string `json:"message"`        // Error message
	Data    any    `json:"data,omitempty"` // Additional data about the error
}

// Error codes (subset, based on JSON-RPC spec and potential application errors)
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// -32000 to -32099: Server error (implementation-defined)
	CodeServerErrorSession    = -32000
	CodeServerErrorToolFailed = -32001
)

var null = json.RawMessage("null")

// NewResult builds a success response for id.
func NewResult(id json.RawMessage, result any) Response {
	if len(id) == 0 {
		id = null
	}
	return Response{Version: Version, Result: result, ID: id}
}

// NewError builds an error response. A nil id is sent as null.
func NewError(id json.RawMessage, code int, message string) Response {
	if len(id) == 0 {
		id = null
	}
	return Response{Version: Version, Error: &Error{Code: code, Message: message}, ID: id}
}

// CallToolParams is the "params" member of a tools/call request.
type CallToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}
