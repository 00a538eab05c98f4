package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nugget/talentscout/internal/buildinfo"
)

// DefaultCallTimeout bounds every blocking reply read when no timeout is
// configured.
const DefaultCallTimeout = 60 * time.Second

// noContentText is returned to the model for a successful call whose
// result carried no text.
const noContentText = "No content in response"

// ServerConfig describes one tool process.
type ServerConfig struct {
	// Name is the display name used in logs, errors, and aliases.
	Name string

	// Command is the executable to launch.
	Command string

	// Args are passed to Command.
	Args []string

	// Env entries ("KEY=VALUE") are appended to the inherited environment.
	Env []string

	// Handshake sends initialize and notifications/initialized before
	// discovery. Off by default; plain tool processes only answer
	// tools/list and tools/call.
	Handshake bool

	// IncludeTools, if non-empty, limits discovery to these tool names.
	IncludeTools []string

	// ExcludeTools drops these tool names. Ignored when IncludeTools is set.
	ExcludeTools []string
}

// HandleOptions carries the timing and logging knobs shared by all
// handles of a manager.
type HandleOptions struct {
	StartGrace  time.Duration
	CallTimeout time.Duration
	StopTimeout time.Duration
	Logger      *slog.Logger
}

// State is the lifecycle position of a [Handle].
type State int

const (
	StateUnstarted State = iota
	StateStarting
	StateReady
	StateFailed
	StateStopped
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle owns one tool process: its transport, its lifecycle, and the
// tools it declared. A handle is single-use; once stopped it cannot be
// started again.
type Handle struct {
	config      ServerConfig
	transport   Transport
	callTimeout time.Duration
	logger      *slog.Logger
	nextID      atomic.Int64

	mu       sync.Mutex
	state    State
	startErr error

	discoverOnce sync.Once
	tools        []ToolDefinition
	discoverErr  error
}

// NewHandle creates a handle that will run cfg as a subprocess speaking
// newline-delimited JSON-RPC on stdio. Nothing is started until Start.
func NewHandle(cfg ServerConfig, opts HandleOptions) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("mcp_server", cfg.Name)

	transport := NewStdioTransport(StdioConfig{
		Server:      cfg.Name,
		Command:     cfg.Command,
		Args:        cfg.Args,
		Env:         cfg.Env,
		StartGrace:  opts.StartGrace,
		StopTimeout: opts.StopTimeout,
		Logger:      logger,
	})
	return newHandle(cfg, transport, opts.CallTimeout, logger)
}

// newHandle wires a handle to an arbitrary transport.
func newHandle(cfg ServerConfig, transport Transport, callTimeout time.Duration, logger *slog.Logger) *Handle {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Handle{
		config:      cfg,
		transport:   transport,
		callTimeout: callTimeout,
		logger:      logger,
	}
}

// Name returns the configured display name.
func (h *Handle) Name() string {
	return h.config.Name
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// StartErr returns the error that moved the handle to StateFailed, if any.
func (h *Handle) StartErr() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.startErr
}

// Alive reports whether the tool process is currently running.
func (h *Handle) Alive() bool {
	return h.transport.Alive()
}

// Tools returns a copy of the discovered tool definitions.
func (h *Handle) Tools() []ToolDefinition {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ToolDefinition, len(h.tools))
	copy(out, h.tools)
	return out
}

// Start launches the tool process and, when configured, performs the
// initialize handshake. On failure the handle enters StateFailed and the
// error is a [*SpawnError], a [*ProcessExitedEarlyError], or a wrapped
// handshake error.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.state != StateUnstarted {
		state := h.state
		h.mu.Unlock()
		return fmt.Errorf("start %s: handle is %s", h.config.Name, state)
	}
	h.state = StateStarting
	h.mu.Unlock()

	err := h.transport.Start(ctx)
	if err == nil && h.config.Handshake {
		err = h.initialize(ctx)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// Stop may have raced with a slow start; stopped is terminal.
	if h.state == StateStopped {
		if err == nil {
			err = fmt.Errorf("start %s: %w", h.config.Name, ErrNotReady)
		}
		return err
	}
	if err != nil {
		h.state = StateFailed
		h.startErr = err
		return err
	}
	h.state = StateReady
	return nil
}

// initialize performs the handshake: an initialize request followed by
// the notifications/initialized notification.
func (h *Handle) initialize(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	params := initializeParams{
		ProtocolVersion: protocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo: implementationInfo{
			Name:    "talentscout",
			Version: buildinfo.Version,
		},
	}

	resp, err := h.send(ctx, methodInitialize, params)
	if err != nil {
		return fmt.Errorf("initialize %s: %w", h.config.Name, err)
	}
	if resp.HasError() {
		return fmt.Errorf("initialize %s: %w", h.config.Name, resp.Err())
	}

	var result initializeResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	h.logger.Info("tool server initialized",
		"server_name", result.ServerInfo.Name,
		"server_version", result.ServerInfo.Version,
		"protocol_version", result.ProtocolVersion,
	)

	if err := h.transport.Notify(ctx, NewNotification(methodInitialized, nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}
	return nil
}

// Discover sends one tools/list request and records the declared tools,
// filtered by the include/exclude lists. It runs once per handle; later
// calls return the first outcome. Any failure is a [*DiscoveryError] and
// leaves the handle ready with zero tools.
func (h *Handle) Discover(ctx context.Context) ([]ToolDefinition, error) {
	h.discoverOnce.Do(func() {
		tools, err := h.discover(ctx)
		if err != nil {
			h.discoverErr = &DiscoveryError{Server: h.config.Name, Err: err}
			h.logger.Warn("tool discovery failed, continuing with zero tools",
				"error", err,
			)
			return
		}
		h.mu.Lock()
		h.tools = tools
		h.mu.Unlock()
		h.logger.Info("discovered tools", "count", len(tools))
	})
	return h.Tools(), h.discoverErr
}

func (h *Handle) discover(ctx context.Context) ([]ToolDefinition, error) {
	if state := h.State(); state != StateReady {
		return nil, fmt.Errorf("handle is %s: %w", state, ErrNotReady)
	}

	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	resp, err := h.send(ctx, methodToolsList, nil)
	if err != nil {
		return nil, timeoutContext(err, h.callTimeout)
	}
	if resp.HasError() {
		return nil, resp.Err()
	}
	if isNull(resp.Result) {
		return nil, errors.New("reply has no result")
	}

	var result toolsListResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("malformed tools/list result: %w", err)
	}
	if result.Tools == nil {
		return nil, errors.New("reply result has no tools field")
	}

	return h.filterTools(*result.Tools), nil
}

// filterTools applies the include/exclude lists and drops unnamed and
// duplicate tools. Declaration order is preserved.
func (h *Handle) filterTools(declared []ToolDefinition) []ToolDefinition {
	includeSet := toSet(h.config.IncludeTools)
	excludeSet := toSet(h.config.ExcludeTools)
	seen := make(map[string]bool, len(declared))

	tools := make([]ToolDefinition, 0, len(declared))
	for _, td := range declared {
		switch {
		case td.Name == "":
			h.logger.Warn("ignoring tool without a name")
			continue
		case seen[td.Name]:
			h.logger.Warn("ignoring duplicate tool declaration", "tool", td.Name)
			continue
		}
		seen[td.Name] = true

		if len(includeSet) > 0 {
			if !includeSet[td.Name] {
				continue
			}
		} else if excludeSet[td.Name] {
			continue
		}

		if td.InputSchema == nil {
			td.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, td)
	}
	return tools
}

// CallTool sends one tools/call request and returns the text of the
// result. Every failure, including a timeout or an error reply, is an
// [*InvocationError].
func (h *Handle) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	fail := func(err error) (string, error) {
		return "", &InvocationError{Server: h.config.Name, Tool: name, Err: err}
	}

	if state := h.State(); state != StateReady {
		return fail(fmt.Errorf("handle is %s: %w", state, ErrNotReady))
	}
	if args == nil {
		args = map[string]any{}
	}

	ctx, cancel := context.WithTimeout(ctx, h.callTimeout)
	defer cancel()

	start := time.Now()
	resp, err := h.send(ctx, methodToolsCall, callToolParams{Name: name, Arguments: args})
	if err != nil {
		return fail(timeoutContext(err, h.callTimeout))
	}
	if resp.HasError() {
		return fail(resp.Err())
	}
	if isNull(resp.Result) {
		return fail(errors.New("reply has neither result nor error"))
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return fail(fmt.Errorf("malformed tools/call result: %w", err))
	}

	text := extractText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return fail(errors.New(text))
	}

	h.logger.Debug("tool call complete",
		"tool", name,
		"elapsed", time.Since(start).Round(time.Millisecond),
		"result_len", len(text),
	)
	return text, nil
}

// Invoke is the failure-as-data form of CallTool: it always returns a
// string suitable for handing back to the model and never panics. A
// non-nil condenser shortens successful results; if it fails the raw
// result is returned.
func (h *Handle) Invoke(ctx context.Context, name string, args map[string]any, condenser Condenser) (out string) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("panic during tool call", "tool", name, "panic", r)
			out = failureText(fmt.Errorf("panic: %v", r))
		}
	}()

	text, err := h.CallTool(ctx, name, args)
	if err != nil {
		h.logger.Warn("tool call failed", "tool", name, "error", err)
		return failureText(err)
	}
	if text == "" {
		return noContentText
	}
	if condenser == nil {
		return text
	}

	short, err := condenser.Condense(ctx, text)
	if err != nil {
		h.logger.Warn("condensing tool result failed, returning raw result", "tool", name, "error", err)
		return text
	}
	return short
}

// Stop terminates the tool process. Stopping an unstarted, failed, or
// already stopped handle is allowed; only the first call does any work.
// A forced kill is reported as a [*ShutdownError].
func (h *Handle) Stop() error {
	h.mu.Lock()
	prev := h.state
	h.state = StateStopped
	h.mu.Unlock()

	switch prev {
	case StateStopped:
		return nil
	case StateUnstarted:
		return nil
	}

	err := h.transport.Close()
	if err != nil {
		var se *ShutdownError
		if !errors.As(err, &se) {
			err = &ShutdownError{Server: h.config.Name, Err: err}
		}
		return err
	}
	h.logger.Debug("tool server stopped", "previous_state", prev)
	return nil
}

// send issues a JSON-RPC request with the next correlation id.
func (h *Handle) send(ctx context.Context, method string, params any) (*Response, error) {
	id := h.nextID.Add(1)
	return h.transport.Send(ctx, NewRequest(id, method, params))
}

// timeoutContext rewrites a deadline error into a message naming the
// configured timeout.
func timeoutContext(err error, timeout time.Duration) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("no reply within %s: %w", timeout, err)
	}
	return err
}

// isNull reports whether a raw JSON member is absent or null.
func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
