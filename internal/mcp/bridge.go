package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// sanitizeRe matches characters that are not lowercase alphanumeric or underscore.
var sanitizeRe = regexp.MustCompile(`[^a-z0-9_]`)

// Condenser shortens a tool result before it reaches the model. It is
// applied to successful results only.
type Condenser interface {
	Condense(ctx context.Context, text string) (string, error)
}

// Function is a discovered tool presented as a self-contained callable.
// Its name, description, and input schema are exactly those declared by
// the tool process; calls are delegated to the owning handle.
type Function struct {
	Name        string
	Description string
	InputSchema map[string]any

	// Server is the display name of the owning tool process.
	Server string

	call func(ctx context.Context, args map[string]any) string
}

// NewFunction builds a Function around an arbitrary call. Functions for
// tool processes come from [Manager.StartAll]; this is for callables
// implemented in-process.
func NewFunction(name, description string, schema map[string]any, server string, call func(ctx context.Context, args map[string]any) string) *Function {
	return &Function{
		Name:        name,
		Description: description,
		InputSchema: schema,
		Server:      server,
		call:        call,
	}
}

// Call invokes the tool. It never returns an error: failures come back
// as descriptive text so that the caller can carry on.
func (f *Function) Call(ctx context.Context, args map[string]any) (out string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic during tool call", "tool", f.Name, "server", f.Server, "panic", r)
			out = failureText(fmt.Errorf("panic: %v", r))
		}
	}()
	return f.call(ctx, args)
}

// Registry is the ordered set of functions from every started tool
// process: registration order of servers, then declaration order.
type Registry []*Function

// Find returns every function with the given name. Tools of the same name
// from different servers are all kept.
func (r Registry) Find(name string) []*Function {
	var out []*Function
	for _, f := range r {
		if f.Name == name {
			out = append(out, f)
		}
	}
	return out
}

// Names returns the function names in registry order.
func (r Registry) Names() []string {
	names := make([]string, len(r))
	for i, f := range r {
		names[i] = f.Name
	}
	return names
}

// bridgeTool creates a Function that proxies calls for td to h. When a
// condenser is given, successful results pass through it; a condenser
// failure yields the raw result.
func bridgeTool(h *Handle, td ToolDefinition, condenser Condenser) *Function {
	// Capture the declared tool name for the call.
	toolName := td.Name

	return &Function{
		Name:        td.Name,
		Description: td.Description,
		InputSchema: td.InputSchema,
		Server:      h.Name(),
		call: func(ctx context.Context, args map[string]any) string {
			return h.Invoke(ctx, toolName, args, condenser)
		},
	}
}

// BridgeTools converts the discovered tools of h into functions.
func BridgeTools(h *Handle, condenser Condenser) Registry {
	tools := h.Tools()
	fns := make(Registry, 0, len(tools))
	for _, td := range tools {
		fns = append(fns, bridgeTool(h, td, condenser))
	}
	return fns
}

// ToolName generates a namespaced tool name from a server name and tool
// name. Both components are sanitized to contain only lowercase
// alphanumeric characters and underscores.
func ToolName(serverName, toolName string) string {
	server := sanitize(serverName)
	tool := sanitize(toolName)
	return fmt.Sprintf("mcp_%s_%s", server, tool)
}

// sanitize converts a name to lowercase and replaces non-alphanumeric
// characters (except underscore) with underscores. Consecutive
// underscores are collapsed and leading/trailing underscores are trimmed.
func sanitize(name string) string {
	s := strings.ToLower(name)
	s = sanitizeRe.ReplaceAllString(s, "_")

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	return strings.Trim(s, "_")
}

// toSet converts a string slice to a set for O(1) lookups.
func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	m := make(map[string]bool, len(items))
	for _, item := range items {
		m[item] = true
	}
	return m
}
