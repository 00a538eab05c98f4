package mcp

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProcessExited is returned when a request is attempted against a
	// tool process that is no longer running.
	ErrProcessExited = errors.New("tool process exited")

	// ErrNotReady is returned when a handle is asked to discover or invoke
	// tools before a successful Start or after Stop.
	ErrNotReady = errors.New("tool server not ready")
)

// SpawnError reports that a tool process could not be launched at all.
type SpawnError struct {
	Server  string
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn tool server %s (%s): %v", e.Server, e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ProcessExitedEarlyError reports that a tool process exited during its
// startup grace period. Stderr holds whatever the process wrote before
// exiting.
type ProcessExitedEarlyError struct {
	Server string
	Err    error // exit status from Wait, nil for a clean exit
	Stderr string
}

func (e *ProcessExitedEarlyError) Error() string {
	status := "exit status 0"
	if e.Err != nil {
		status = e.Err.Error()
	}
	msg := fmt.Sprintf("tool server %s exited during startup (%s)", e.Server, status)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

func (e *ProcessExitedEarlyError) Unwrap() error { return ErrProcessExited }

// DiscoveryError reports an unusable tools/list reply: empty, malformed,
// missing the tools field, an error reply, or no reply before the timeout.
// A handle that fails discovery stays up with zero tools.
type DiscoveryError struct {
	Server string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover tools on %s: %v", e.Server, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// InvocationError reports a failed tools/call round trip. It is surfaced
// to the agent loop as text rather than propagated.
type InvocationError struct {
	Server string
	Tool   string
	Err    error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("tool %s on %s failed: %v", e.Tool, e.Server, e.Err)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// ShutdownError reports a tool process that ignored the termination signal
// or could not be waited on.
type ShutdownError struct {
	Server string
	Err    error
}

func (e *ShutdownError) Error() string {
	return fmt.Sprintf("stop tool server %s: %v", e.Server, e.Err)
}

func (e *ShutdownError) Unwrap() error { return e.Err }

// failureText renders an invocation failure as the string handed back to
// the model in place of a tool result.
func failureText(err error) string {
	return "Tool execution failed: " + err.Error()
}
