package jsonrpc

import (
	"encoding/json"

	"github.com/imsgguard/imsg-guard/api"
)

// ErrorCodeBlocked is the JSON-RPC error code for messages denied by the
// contact policy.
const ErrorCodeBlocked = -32001

// ErrorCodeUnavailable is the JSON-RPC error code for backend failures
// (not running, response timeout).
const ErrorCodeUnavailable = -32000

// NewBlockedResponse creates a JSON-RPC error response for a blocked request,
// carrying the original request id.
func NewBlockedResponse(id json.RawMessage, message string) *api.JSONRPCMessage {
	return &api.JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error: &api.JSONRPCError{
			Code:    ErrorCodeBlocked,
			Message: message,
		},
	}
}

// NewUnavailableResponse creates a JSON-RPC error response for a request the
// backend could not serve.
func NewUnavailableResponse(id json.RawMessage, message string) *api.JSONRPCMessage {
	return &api.JSONRPCMessage{
		JSONRPC: "2.0",
		ID:      id,
		Error: &api.JSONRPCError{
			Code:    ErrorCodeUnavailable,
			Message: message,
		},
	}
}

// Marshal encodes a JSONRPCMessage to JSON bytes.
func Marshal(msg *api.JSONRPCMessage) ([]byte, error) {
	return json.Marshal(msg)
}
