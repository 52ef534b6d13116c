package router

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes used by the MCP endpoint.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

// Message is a JSON-RPC 2.0 message.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// IsNotification reports whether the message is a notification (no id).
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// Validate checks the request envelope.
func (m *Message) Validate() error {
	if m.JSONRPC != "2.0" {
		return fmt.Errorf("invalid JSON-RPC version: %q", m.JSONRPC)
	}
	if m.Method == "" {
		return fmt.Errorf("missing method")
	}
	return nil
}

// newResponse creates a success response carrying result.
func newResponse(id any, result any) (*Message, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return &Message{JSONRPC: "2.0", ID: id, Result: resultJSON}, nil
}

// newErrorResponse creates an error response.
func newErrorResponse(id any, code int, message string) *Message {
	return &Message{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message},
	}
}
