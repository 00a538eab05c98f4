package agent

import (
	"log/slog"

	"github.com/nugget/talentscout/internal/llm"
	"github.com/nugget/talentscout/internal/mcp"
)

// Toolbox maps the names shown to the model onto functions. The first
// function with a given name keeps it; a later function with the same
// name is exposed under its namespaced form, mcp_<server>_<tool>.
type Toolbox struct {
	names  []string
	byName map[string]*mcp.Function
}

// NewToolbox assigns model-facing names to every function in order.
func NewToolbox(logger *slog.Logger, fns ...*mcp.Function) *Toolbox {
	if logger == nil {
		logger = slog.Default()
	}
	tb := &Toolbox{byName: make(map[string]*mcp.Function, len(fns))}
	for _, fn := range fns {
		if fn == nil {
			continue
		}
		name := fn.Name
		if _, taken := tb.byName[name]; taken {
			name = mcp.ToolName(fn.Server, fn.Name)
			if _, taken := tb.byName[name]; taken {
				logger.Warn("tool name collision, dropping tool",
					"tool", fn.Name,
					"server", fn.Server,
				)
				continue
			}
			logger.Info("tool name collision, exposing under namespaced name",
				"tool", fn.Name,
				"server", fn.Server,
				"exposed_as", name,
			)
		}
		tb.byName[name] = fn
		tb.names = append(tb.names, name)
	}
	return tb
}

// Lookup returns the function exposed under name, or nil.
func (tb *Toolbox) Lookup(name string) *mcp.Function {
	return tb.byName[name]
}

// Names returns the exposed names in order.
func (tb *Toolbox) Names() []string {
	return append([]string(nil), tb.names...)
}

// Len reports how many tools are exposed.
func (tb *Toolbox) Len() int { return len(tb.names) }

// Definitions returns the tool definitions sent with each chat request.
func (tb *Toolbox) Definitions() []map[string]any {
	defs := make([]map[string]any, 0, len(tb.names))
	for _, name := range tb.names {
		fn := tb.byName[name]
		defs = append(defs, llm.FunctionTool(name, fn.Description, fn.InputSchema))
	}
	return defs
}
