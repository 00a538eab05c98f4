package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/talentscout/internal/agent"
	"github.com/nugget/talentscout/internal/recruiter"
	"github.com/nugget/talentscout/internal/runlog"
)

const defaultHistoryLimit = 10

// runCycle handles "scout cycle": start the tools, run the playbook
// once, and print the report.
func runCycle(ctx context.Context, stdout, logw io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(logw, cfg)

	st, err := startStack(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	report, err := st.runner.RunCycle(ctx, "manual")
	if err != nil {
		return fmt.Errorf("cycle: %w", err)
	}

	if outputFmt == "json" {
		if err := writeJSON(stdout, report); err != nil {
			return err
		}
	} else {
		printReport(stdout, report)
	}

	if report.Cycle.Status == runlog.StatusFailed {
		return fmt.Errorf("cycle %s failed: all %d tasks failed", report.Cycle.ID, report.Cycle.Tasks)
	}
	return nil
}

func printReport(w io.Writer, r *recruiter.Report) {
	c := r.Cycle
	fmt.Fprintf(w, "Cycle %s (%s): %s, %d tasks, %d failed, %s\n",
		c.ID, c.Trigger, c.Status, c.Tasks, c.Failed, c.Duration().Round(time.Millisecond))
	for _, res := range r.Results {
		fmt.Fprintf(w, "\n%d. %s\n", res.Seq+1, res.Task)
		fmt.Fprintf(w, "   %d iterations, %d tool calls, %s\n",
			res.Iterations, res.ToolCalls, res.Duration.Round(time.Millisecond))
		if res.Error != "" {
			fmt.Fprintf(w, "   error: %s\n", res.Error)
		}
		if out := strings.TrimSpace(res.Output); out != "" {
			fmt.Fprintln(w, indent(out, "   "))
		}
	}
	if len(r.Recommendations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Recommendations:")
		printRecommendations(w, r.Recommendations)
	}
}

func printRecommendations(w io.Writer, recs []runlog.Recommendation) {
	for _, rec := range recs {
		var where []string
		for _, s := range []string{rec.Company, rec.Role} {
			if s != "" {
				where = append(where, s)
			}
		}
		line := "  - " + rec.Candidate
		if len(where) > 0 {
			line += " (" + strings.Join(where, ", ") + ")"
		}
		if rec.Score > 0 {
			line += fmt.Sprintf(" score %d", rec.Score)
		}
		fmt.Fprintln(w, line+": "+rec.Rationale)
	}
}

type serverView struct {
	Name    string `json:"name"`
	Command string `json:"command"`
	State   string `json:"state"`
	Alive   bool   `json:"alive"`
	Tools   int    `json:"tools"`
	Error   string `json:"error,omitempty"`
}

type toolView struct {
	Name        string         `json:"name"`
	Server      string         `json:"server"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// runTools handles "scout tools": start every tool process and list
// the servers and the tools as the model would see them.
func runTools(ctx context.Context, stdout, logw io.Writer, configPath, outputFmt string) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(logw, cfg)

	manager := newManager(cfg, nil, logger)
	registry := manager.StartAll(ctx)
	defer manager.StopAll()

	var servers []serverView
	for _, hs := range manager.Handles() {
		v := serverView{
			Name:    hs.Name,
			Command: hs.Command,
			State:   hs.State.String(),
			Alive:   hs.Alive,
			Tools:   hs.ToolCount,
		}
		if hs.Err != nil {
			v.Error = hs.Err.Error()
		}
		servers = append(servers, v)
	}

	box := agent.NewToolbox(logger, registry...)
	var tools []toolView
	for _, name := range box.Names() {
		fn := box.Lookup(name)
		tools = append(tools, toolView{
			Name:        name,
			Server:      fn.Server,
			Description: fn.Description,
			InputSchema: fn.InputSchema,
		})
	}

	if outputFmt == "json" {
		return writeJSON(stdout, map[string]any{"servers": servers, "tools": tools})
	}

	fmt.Fprintln(stdout, "Servers:")
	for _, s := range servers {
		fmt.Fprintf(stdout, "  %-20s %-8s %d tools", s.Name, s.State, s.Tools)
		if s.Error != "" {
			fmt.Fprintf(stdout, "  (%s)", firstLine(s.Error))
		}
		fmt.Fprintln(stdout)
	}
	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, "Tools:")
	for _, t := range tools {
		fmt.Fprintf(stdout, "  %-32s [%s] %s\n", t.Name, t.Server, firstLine(t.Description))
	}
	return nil
}

// runCall handles "scout call <tool> [json]": start the tools, invoke
// one by its model-facing name, and print the raw result.
func runCall(ctx context.Context, stdout, logw io.Writer, configPath, outputFmt, tool, argJSON string) error {
	var args map[string]any
	if strings.TrimSpace(argJSON) != "" {
		if err := json.Unmarshal([]byte(argJSON), &args); err != nil {
			return fmt.Errorf("arguments must be a JSON object: %w", err)
		}
	}

	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(logw, cfg)

	manager := newManager(cfg, nil, logger)
	registry := manager.StartAll(ctx)
	defer manager.StopAll()

	box := agent.NewToolbox(logger, registry...)
	fn := box.Lookup(tool)
	if fn == nil {
		return fmt.Errorf("unknown tool %q (available: %s)", tool, strings.Join(box.Names(), ", "))
	}

	start := time.Now()
	result := fn.Call(ctx, args)
	elapsed := time.Since(start)

	if outputFmt == "json" {
		return writeJSON(stdout, map[string]any{
			"tool":        tool,
			"server":      fn.Server,
			"result":      result,
			"duration_ms": elapsed.Milliseconds(),
		})
	}
	fmt.Fprintln(stdout, result)
	return nil
}

// runHistory handles "scout history [n]".
func runHistory(ctx context.Context, stdout io.Writer, configPath, outputFmt string, limit int) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	cycles, err := store.RecentCycles(ctx, limit)
	if err != nil {
		return err
	}
	recs, err := store.RecentRecommendations(ctx, limit)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		return writeJSON(stdout, map[string]any{"cycles": cycles, "recommendations": recs})
	}

	if len(cycles) == 0 {
		fmt.Fprintln(stdout, "No cycles recorded.")
		return nil
	}
	fmt.Fprintln(stdout, "Cycles:")
	for _, c := range cycles {
		fmt.Fprintf(stdout, "  %s  %-11s %d/%d tasks ok  %-8s %s\n",
			c.StartedAt.Local().Format(time.DateTime), c.Status,
			c.Tasks-c.Failed, c.Tasks, c.Duration().Round(time.Second), c.Trigger)
	}
	if len(recs) > 0 {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, "Recommendations:")
		printRecommendations(stdout, recs)
	}
	return nil
}

func parseLimit(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid count %q (want a positive number)", s)
	}
	return n, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
