// Package recruiter runs recruiting cycles: every task of the playbook
// goes through the agent loop once, and each outcome is recorded.
package recruiter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nugget/talentscout/internal/agent"
	"github.com/nugget/talentscout/internal/playbook"
	"github.com/nugget/talentscout/internal/runlog"
)

// ErrCycleRunning is returned when a cycle is triggered while another is
// still in progress.
var ErrCycleRunning = errors.New("a recruiting cycle is already running")

// Agent runs one task to completion.
type Agent interface {
	Run(ctx context.Context, systemPrompt, task string) (*agent.Result, error)
}

// Config configures a [Runner].
type Config struct {
	// TaskTimeout bounds one task, tool calls included. Zero means no
	// limit beyond the caller's context.
	TaskTimeout time.Duration
	// ToolCount is recorded with each cycle.
	ToolCount int
	Logger    *slog.Logger
}

// Report is the outcome of one cycle.
type Report struct {
	Cycle           *runlog.Cycle           `json:"cycle"`
	Results         []runlog.TaskResult     `json:"results"`
	Recommendations []runlog.Recommendation `json:"recommendations,omitempty"`
}

// Runner executes cycles one at a time.
type Runner struct {
	agent    Agent
	playbook *playbook.Playbook
	store    *runlog.Store
	config   Config
	logger   *slog.Logger

	running atomic.Bool
}

// NewRunner creates a runner for pb whose history goes to store.
func NewRunner(a Agent, pb *playbook.Playbook, store *runlog.Store, cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		agent:    a,
		playbook: pb,
		store:    store,
		config:   cfg,
		logger:   logger.With("component", "recruiter"),
	}
}

// RunCycle runs every playbook task in order. A failed task is recorded
// and the cycle moves on. Overlapping calls return ErrCycleRunning without
// doing anything. Cancelling ctx stops the cycle after the current task
// and marks it interrupted.
func (r *Runner) RunCycle(ctx context.Context, trigger string) (*Report, error) {
	if !r.running.CompareAndSwap(false, true) {
		r.logger.Warn("recruiting cycle skipped, previous cycle still running", "trigger", trigger)
		return nil, ErrCycleRunning
	}
	defer r.running.Store(false)

	tasks := r.playbook.Tasks
	cycle, err := r.store.StartCycle(ctx, trigger, r.config.ToolCount, len(tasks))
	if err != nil {
		return nil, fmt.Errorf("start cycle: %w", err)
	}
	logger := r.logger.With("cycle", cycle.ID, "trigger", trigger)
	logger.Info("recruiting cycle started", "tasks", len(tasks), "tools", r.config.ToolCount)

	report := &Report{Cycle: cycle}
	for i, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		result, recs := r.runTask(ctx, logger, cycle.ID, i, task)
		report.Results = append(report.Results, result)
		report.Recommendations = append(report.Recommendations, recs...)
		if result.Error != "" {
			cycle.Failed++
		}
	}

	switch {
	case ctx.Err() != nil:
		cycle.Status = runlog.StatusInterrupted
	case cycle.Failed == 0:
		cycle.Status = runlog.StatusOK
	case cycle.Failed == len(tasks):
		cycle.Status = runlog.StatusFailed
	default:
		cycle.Status = runlog.StatusPartial
	}

	// Record the end even when ctx was cancelled.
	if err := r.store.FinishCycle(context.WithoutCancel(ctx), cycle); err != nil {
		logger.Error("failed to record cycle end", "error", err)
	}

	logger.Info("recruiting cycle finished",
		"status", cycle.Status,
		"failed", cycle.Failed,
		"recommendations", len(report.Recommendations),
		"elapsed", cycle.Duration().Round(time.Millisecond),
	)
	return report, nil
}

// Running reports whether a cycle is in progress.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// runTask runs and records one task.
func (r *Runner) runTask(ctx context.Context, logger *slog.Logger, cycleID string, seq int, task string) (runlog.TaskResult, []runlog.Recommendation) {
	taskCtx := ctx
	if r.config.TaskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, r.config.TaskTimeout)
		defer cancel()
	}

	logger.Info("executing task", "seq", seq, "task", task)
	start := time.Now()
	res, err := r.agent.Run(taskCtx, r.playbook.SystemPrompt, task)

	tr := runlog.TaskResult{
		ID:        runlog.NewID(),
		CycleID:   cycleID,
		Seq:       seq,
		Task:      task,
		StartedAt: start.UTC(),
		Duration:  time.Since(start),
	}
	if res != nil {
		tr.Output = res.Output
		tr.Iterations = res.Iterations
		tr.ToolCalls = len(res.ToolCalls)
		tr.InputTokens = res.InputTokens
		tr.OutputTokens = res.OutputTokens
	}
	if err != nil {
		tr.Error = err.Error()
		logger.Error("task failed", "seq", seq, "error", err)
	} else {
		logger.Info("task result", "seq", seq, "output", tr.Output)
	}

	// Persist with a context that outlives a task timeout.
	storeCtx := context.WithoutCancel(ctx)
	if err := r.store.RecordTask(storeCtx, &tr); err != nil {
		logger.Error("failed to record task result", "seq", seq, "error", err)
	}

	var recs []runlog.Recommendation
	if res != nil {
		for _, rec := range res.Recommendations {
			stored := runlog.Recommendation{
				CycleID:   cycleID,
				TaskID:    tr.ID,
				Candidate: rec.Candidate,
				Company:   rec.Company,
				Role:      rec.Role,
				Rationale: rec.Rationale,
				Score:     rec.Score,
				Outreach:  rec.Outreach,
			}
			if err := r.store.RecordRecommendation(storeCtx, &stored); err != nil {
				logger.Error("failed to record recommendation", "candidate", rec.Candidate, "error", err)
				continue
			}
			recs = append(recs, stored)
		}
	}
	return tr, recs
}
