package mcp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonrpcVersion is the JSON-RPC protocol version used on the wire.
const jsonrpcVersion = "2.0"

// Method names understood by tool servers.
const (
	methodInitialize  = "initialize"
	methodInitialized = "notifications/initialized"
	methodPing        = "ping"
	methodToolsList   = "tools/list"
	methodToolsCall   = "tools/call"
)

// Request is a JSON-RPC 2.0 request message.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest creates a JSON-RPC 2.0 request with the given method and params.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Response is a JSON-RPC 2.0 response message. Tool servers in the wild
// are loose about the envelope: the id may be missing and the error may be
// any JSON value, so both are kept raw here and interpreted by [Response.Err].
type Response struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// HasError reports whether the response carries a non-null error member.
func (r *Response) HasError() bool {
	return len(r.Error) > 0 && !bytes.Equal(bytes.TrimSpace(r.Error), []byte("null"))
}

// Err returns the response error as an [*RPCError], or nil if the
// response succeeded.
func (r *Response) Err() *RPCError {
	if !r.HasError() {
		return nil
	}
	return parseRPCError(r.Error)
}

// RPCError is a JSON-RPC error. Code is zero when the server replied with
// something other than a standard error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface for RPCError.
func (e *RPCError) Error() string {
	if e.Code == 0 {
		return e.Message
	}
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// parseRPCError interprets a raw error member. Standard error objects keep
// their code and message, bare strings become the message, and anything
// else is reported as its JSON text.
func parseRPCError(raw json.RawMessage) *RPCError {
	var obj struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
		Data    any    `json:"data"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Code != nil || obj.Message != "") {
		e := &RPCError{Message: obj.Message, Data: obj.Data}
		if obj.Code != nil {
			e.Code = *obj.Code
		}
		if e.Message == "" {
			e.Message = string(raw)
		}
		return e
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return &RPCError{Message: s}
	}

	return &RPCError{Message: string(bytes.TrimSpace(raw))}
}

// Notification is a JSON-RPC 2.0 notification (no ID, no response expected).
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification creates a JSON-RPC 2.0 notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// callToolParams is the params object of a tools/call request. A struct
// keeps the field order stable on the wire (name before arguments).
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}
