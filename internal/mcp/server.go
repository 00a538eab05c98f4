package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sync"

	"github.com/invopop/jsonschema"
)

// Standard JSON-RPC error codes returned by [Server].
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
)

// ToolHandler executes one tool call with its raw JSON arguments.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool is a tool served by a [Server].
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     ToolHandler
}

// Server answers the tool protocol on a reader/writer pair, one JSON
// message per line. It handles initialize, ping, tools/list, and
// tools/call; notifications are accepted and ignored. Requests are
// processed one at a time in arrival order.
type Server struct {
	name    string
	version string
	logger  *slog.Logger

	mu    sync.RWMutex
	tools []Tool
}

// NewServer creates a server that identifies itself with name and
// version during the handshake.
func NewServer(name, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{name: name, version: version, logger: logger}
}

// AddTool registers a tool. A tool with the same name replaces the
// earlier one in place.
func (s *Server) AddTool(t Tool) {
	if t.InputSchema == nil {
		t.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tools {
		if s.tools[i].Name == t.Name {
			s.tools[i] = t
			return
		}
	}
	s.tools = append(s.tools, t)
}

// Tools returns the declared tools in registration order.
func (s *Server) Tools() []ToolDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]ToolDefinition, len(s.tools))
	for i, t := range s.tools {
		defs[i] = ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	return defs
}

// NewTypedTool builds a Tool whose arguments decode into A. The input
// schema is reflected from A's json and jsonschema struct tags; unknown
// argument fields are rejected.
func NewTypedTool[A any](name, description string, fn func(ctx context.Context, args A) (string, error)) Tool {
	return Tool{
		Name:        name,
		Description: description,
		InputSchema: ReflectSchema[A](),
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args A
			if !isNull(raw) {
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&args); err != nil {
					return "", fmt.Errorf("invalid arguments: %w", err)
				}
			}
			return fn(ctx, args)
		},
	}
}

// ReflectSchema returns the JSON Schema of A as a plain map, suitable for
// a tool's input schema. Non-struct types yield an empty object schema.
func ReflectSchema[A any]() map[string]any {
	empty := map[string]any{"type": "object", "properties": map[string]any{}}

	t := reflect.TypeFor[A]()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return empty
	}

	// DoNotReference inlines the root struct, named or anonymous, so no
	// definitions lookup is needed to expand it.
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := r.ReflectFromType(t)
	if schema == nil || schema.Type != "object" {
		return empty
	}

	data, err := json.Marshal(schema)
	if err != nil {
		return empty
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return empty
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// incoming is any message a client may send.
type incoming struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// outgoing is a reply written by the server. ID is always present and is
// null when the request id could not be read.
type outgoing struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// toolCallParams is the params object of a tools/call request as
// received by the server.
type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Serve reads requests from r and writes replies to w until r reaches
// EOF, a read fails, or ctx is cancelled. EOF is a normal shutdown and
// returns nil.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	out := bufio.NewWriter(w)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read request: %w", err)
			}
			return nil
		case line := <-lines:
			reply := s.handleLine(ctx, line)
			if reply == nil {
				continue
			}
			data, err := json.Marshal(reply)
			if err != nil {
				return fmt.Errorf("marshal reply: %w", err)
			}
			data = append(data, '\n')
			if _, err := out.Write(data); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
			if err := out.Flush(); err != nil {
				return fmt.Errorf("write reply: %w", err)
			}
		}
	}
}

// handleLine processes one input line and returns the reply, or nil for
// blank lines and notifications.
func (s *Server) handleLine(ctx context.Context, line []byte) *outgoing {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}

	var msg incoming
	if err := json.Unmarshal(line, &msg); err != nil {
		s.logger.Warn("unparseable request", "error", err)
		return errorReply(nil, codeParseError, "parse error: "+err.Error())
	}

	if isNull(msg.ID) {
		s.logger.Debug("notification received", "method", msg.Method)
		return nil
	}
	if msg.Method == "" {
		return errorReply(msg.ID, codeInvalidRequest, "missing method")
	}

	result, rpcErr := s.dispatch(ctx, msg)
	if rpcErr != nil {
		return &outgoing{JSONRPC: jsonrpcVersion, ID: msg.ID, Error: rpcErr}
	}
	return &outgoing{JSONRPC: jsonrpcVersion, ID: msg.ID, Result: result}
}

// dispatch routes a request to its method handler.
func (s *Server) dispatch(ctx context.Context, msg incoming) (any, *RPCError) {
	switch msg.Method {
	case methodInitialize:
		return initializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      implementationInfo{Name: s.name, Version: s.version},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		}, nil

	case methodPing:
		return map[string]any{}, nil

	case methodToolsList:
		defs := s.Tools()
		return toolsListResult{Tools: &defs}, nil

	case methodToolsCall:
		var params toolCallParams
		if err := json.Unmarshal(msg.Params, &params); err != nil || params.Name == "" {
			return nil, &RPCError{Code: codeInvalidParams, Message: "tools/call requires a tool name"}
		}
		return s.callTool(ctx, params), nil

	default:
		return nil, &RPCError{Code: codeMethodNotFound, Message: "method not found: " + msg.Method}
	}
}

// callTool runs a tool and wraps its outcome as a tools/call result. Tool
// failures are reported in-band with isError set.
func (s *Server) callTool(ctx context.Context, params toolCallParams) callToolResult {
	s.mu.RLock()
	var tool *Tool
	for i := range s.tools {
		if s.tools[i].Name == params.Name {
			t := s.tools[i]
			tool = &t
			break
		}
	}
	s.mu.RUnlock()

	if tool == nil {
		return textResult("unknown tool: "+params.Name, true)
	}

	text, err := runTool(ctx, tool.Handler, params.Arguments)
	if err != nil {
		s.logger.Warn("tool failed", "tool", params.Name, "error", err)
		return textResult(err.Error(), true)
	}
	s.logger.Debug("tool served", "tool", params.Name, "result_len", len(text))
	return textResult(text, false)
}

// runTool calls h, converting a panic into an error.
func runTool(ctx context.Context, h ToolHandler, args json.RawMessage) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	if h == nil {
		return "", errors.New("tool has no handler")
	}
	return h(ctx, args)
}

func textResult(text string, isError bool) callToolResult {
	return callToolResult{
		Content: []ContentBlock{{Type: "text", Text: text}},
		IsError: isError,
	}
}

func errorReply(id json.RawMessage, code int, message string) *outgoing {
	return &outgoing{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Error:   &RPCError{Code: code, Message: message},
	}
}
