// Package agent runs the reasoning loop: the model is given a task and
// the discovered tools, and its tool calls are executed until it answers
// in plain text.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/talentscout/internal/llm"
	"github.com/nugget/talentscout/internal/mcp"
)

// DefaultMaxIterations bounds model round trips per task.
const DefaultMaxIterations = 10

// ErrIterationLimit is returned, along with the partial result, when the
// model is still calling tools after the last allowed iteration.
var ErrIterationLimit = errors.New("iteration limit reached")

// Config configures a [Loop].
type Config struct {
	Model         string
	MaxIterations int
	Logger        *slog.Logger
}

// ToolCallRecord is one tool execution within a run.
type ToolCallRecord struct {
	Name      string         `json:"name"`
	Server    string         `json:"server,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result"`
	Duration  time.Duration  `json:"duration"`
}

// Result is the outcome of one task.
type Result struct {
	// Output is the model's final text.
	Output string `json:"output"`

	Iterations      int              `json:"iterations"`
	ToolCalls       []ToolCallRecord `json:"tool_calls,omitempty"`
	Recommendations []Recommendation `json:"recommendations,omitempty"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Loop drives one model through tasks using a fixed set of functions.
type Loop struct {
	client   llm.Client
	registry mcp.Registry
	config   Config
	logger   *slog.Logger
}

// New creates a loop. The registry is read-only from here on.
func New(client llm.Client, registry mcp.Registry, cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	return &Loop{
		client:   client,
		registry: registry,
		config:   cfg,
		logger:   logger.With("component", "agent"),
	}
}

// Run works on task until the model stops calling tools. Tool failures
// are fed back to the model as text and never end the run; a model error
// does. On ErrIterationLimit the partial result is returned too.
func (l *Loop) Run(ctx context.Context, systemPrompt, task string) (*Result, error) {
	rec := &recorder{}
	fns := append([]*mcp.Function{rec.function()}, l.registry...)
	tools := NewToolbox(l.logger, fns...)
	defs := tools.Definitions()

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: task},
	}

	res := &Result{}
	l.logger.Info("task started", "tools", tools.Len(), "model", l.config.Model)

	for res.Iterations < l.config.MaxIterations {
		if err := ctx.Err(); err != nil {
			res.Recommendations = rec.all()
			return res, err
		}
		res.Iterations++

		resp, err := l.client.Chat(ctx, l.config.Model, messages, defs)
		if err != nil {
			res.Recommendations = rec.all()
			return res, fmt.Errorf("iteration %d: %w", res.Iterations, err)
		}
		res.InputTokens += resp.InputTokens
		res.OutputTokens += resp.OutputTokens
		res.Output = resp.Message.Content

		calls := resp.Message.ToolCalls
		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Message.Content,
			ToolCalls: calls,
		})

		if len(calls) == 0 {
			res.Recommendations = rec.all()
			l.logger.Info("task finished",
				"iterations", res.Iterations,
				"tool_calls", len(res.ToolCalls),
				"recommendations", len(res.Recommendations),
			)
			return res, nil
		}

		for _, call := range calls {
			record := l.execute(ctx, tools, call)
			res.ToolCalls = append(res.ToolCalls, record)
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    record.Result,
				ToolCallID: call.ID,
			})
		}
	}

	res.Recommendations = rec.all()
	l.logger.Warn("task stopped at iteration limit",
		"iterations", res.Iterations,
		"tool_calls", len(res.ToolCalls),
	)
	return res, ErrIterationLimit
}

// execute runs one tool call. Unknown names produce an error string for
// the model.
func (l *Loop) execute(ctx context.Context, tools *Toolbox, call llm.ToolCall) ToolCallRecord {
	record := ToolCallRecord{Name: call.Name, Arguments: call.Arguments}

	fn := tools.Lookup(call.Name)
	if fn == nil {
		l.logger.Warn("model called unknown tool", "tool", call.Name)
		record.Result = fmt.Sprintf("Unknown tool: %s. Available tools: %v", call.Name, tools.Names())
		return record
	}
	record.Server = fn.Server

	start := time.Now()
	record.Result = fn.Call(ctx, call.Arguments)
	record.Duration = time.Since(start)

	l.logger.Debug("tool executed",
		"tool", call.Name,
		"server", fn.Server,
		"elapsed", record.Duration.Round(time.Millisecond),
		"result_len", len(record.Result),
	)
	return record
}
