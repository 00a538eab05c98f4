// Package runlog records recruiting cycles, the outcome of every task in
// them, and the recommendations the model filed, in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cycle statuses.
const (
	StatusRunning     = "running"
	StatusOK          = "ok"
	StatusPartial     = "partial" // some tasks failed
	StatusFailed      = "failed"  // every task failed
	StatusInterrupted = "interrupted"
)

// timeFormat is fixed-width so stored times sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z"

// Cycle is one run of the playbook.
type Cycle struct {
	ID         string     `json:"id"`
	Trigger    string     `json:"trigger"`
	Status     string     `json:"status"`
	Tools      int        `json:"tools"`
	Tasks      int        `json:"tasks"`
	Failed     int        `json:"failed"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Duration returns how long the cycle ran, or zero while it is running.
func (c Cycle) Duration() time.Duration {
	if c.FinishedAt == nil {
		return 0
	}
	return c.FinishedAt.Sub(c.StartedAt)
}

// TaskResult is the outcome of one playbook task.
type TaskResult struct {
	ID           string        `json:"id"`
	CycleID      string        `json:"cycle_id"`
	Seq          int           `json:"seq"`
	Task         string        `json:"task"`
	Output       string        `json:"output"`
	Error        string        `json:"error,omitempty"`
	Iterations   int           `json:"iterations"`
	ToolCalls    int           `json:"tool_calls"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// Recommendation is a candidate recommendation filed during a task.
type Recommendation struct {
	ID        string    `json:"id"`
	CycleID   string    `json:"cycle_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Candidate string    `json:"candidate"`
	Company   string    `json:"company,omitempty"`
	Role      string    `json:"role,omitempty"`
	Rationale string    `json:"rationale"`
	Score     int       `json:"score,omitempty"`
	Outreach  string    `json:"outreach,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists run history.
type Store struct {
	db *sql.DB
}

// NewStore creates a run history store on db, creating tables as needed.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate runlog: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS cycles (
			id TEXT PRIMARY KEY,
			reason TEXT NOT NULL,
			status TEXT NOT NULL,
			tools INTEGER NOT NULL DEFAULT 0,
			tasks INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			finished_at TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_cycles_started_at ON cycles(started_at);

		CREATE TABLE IF NOT EXISTS task_results (
			id TEXT PRIMARY KEY,
			cycle_id TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
			seq INTEGER NOT NULL,
			task TEXT NOT NULL,
			output TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			iterations INTEGER NOT NULL DEFAULT 0,
			tool_calls INTEGER NOT NULL DEFAULT 0,
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			started_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_task_results_cycle ON task_results(cycle_id, seq);

		CREATE TABLE IF NOT EXISTS recommendations (
			id TEXT PRIMARY KEY,
			cycle_id TEXT NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
			task_id TEXT NOT NULL DEFAULT '',
			candidate TEXT NOT NULL,
			company TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT '',
			rationale TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL DEFAULT 0,
			outreach TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_recommendations_created ON recommendations(created_at);
	`)
	return err
}

// NewID generates a new UUIDv7.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}

// StartCycle records the start of a cycle.
func (s *Store) StartCycle(ctx context.Context, trigger string, tools, tasks int) (*Cycle, error) {
	c := &Cycle{
		ID:        NewID(),
		Trigger:   trigger,
		Status:    StatusRunning,
		Tools:     tools,
		Tasks:     tasks,
		StartedAt: time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cycles (id, reason, status, tools, tasks, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.ID, c.Trigger, c.Status, c.Tools, c.Tasks, formatTime(c.StartedAt))
	if err != nil {
		return nil, fmt.Errorf("insert cycle: %w", err)
	}
	return c, nil
}

// FinishCycle records the end of c with its final status and failure count.
func (s *Store) FinishCycle(ctx context.Context, c *Cycle) error {
	now := time.Now().UTC()
	c.FinishedAt = &now
	res, err := s.db.ExecContext(ctx, `
		UPDATE cycles SET status = ?, failed = ?, finished_at = ? WHERE id = ?
	`, c.Status, c.Failed, formatTime(now), c.ID)
	if err != nil {
		return fmt.Errorf("update cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("cycle %s not found", c.ID)
	}
	return nil
}

// MarkInterrupted closes cycles left running by a previous process and
// returns how many were closed.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cycles SET status = ?, finished_at = ? WHERE status = ?
	`, StatusInterrupted, formatTime(time.Now()), StatusRunning)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RecordTask persists a task result, assigning an ID if empty.
func (s *Store) RecordTask(ctx context.Context, r *TaskResult) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (id, cycle_id, seq, task, output, error, iterations,
			tool_calls, input_tokens, output_tokens, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CycleID, r.Seq, r.Task, r.Output, r.Error, r.Iterations,
		r.ToolCalls, r.InputTokens, r.OutputTokens, formatTime(r.StartedAt), r.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert task result: %w", err)
	}
	return nil
}

// RecordRecommendation persists a recommendation, assigning an ID if empty.
func (s *Store) RecordRecommendation(ctx context.Context, r *Recommendation) error {
	if r.Candidate == "" {
		return errors.New("recommendation has no candidate")
	}
	if r.ID == "" {
		r.ID = NewID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO recommendations (id, cycle_id, task_id, candidate, company, role,
			rationale, score, outreach, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.CycleID, r.TaskID, r.Candidate, r.Company, r.Role,
		r.Rationale, r.Score, r.Outreach, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert recommendation: %w", err)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first.
func (s *Store) RecentCycles(ctx context.Context, limit int) ([]Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, reason, status, tools, tasks, failed, started_at, finished_at
		FROM cycles ORDER BY started_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Cycle
	for rows.Next() {
		var (
			c        Cycle
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Trigger, &c.Status, &c.Tools, &c.Tasks, &c.Failed, &started, &finished); err != nil {
			return nil, err
		}
		if c.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("cycle %s: %w", c.ID, err)
		}
		if finished.Valid {
			t, err := parseTime(finished.String)
			if err != nil {
				return nil, fmt.Errorf("cycle %s: %w", c.ID, err)
			}
			c.FinishedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TaskResults returns the task results of a cycle in task order.
func (s *Store) TaskResults(ctx context.Context, cycleID string) ([]TaskResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_id, seq, task, output, error, iterations, tool_calls,
			input_tokens, output_tokens, started_at, duration_ms
		FROM task_results WHERE cycle_id = ? ORDER BY seq
	`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskResult
	for rows.Next() {
		var (
			r       TaskResult
			started string
			ms      int64
		)
		if err := rows.Scan(&r.ID, &r.CycleID, &r.Seq, &r.Task, &r.Output, &r.Error, &r.Iterations,
			&r.ToolCalls, &r.InputTokens, &r.OutputTokens, &started, &ms); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("task result %s: %w", r.ID, err)
		}
		r.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentRecommendations returns up to limit recommendations, newest first.
func (s *Store) RecentRecommendations(ctx context.Context, limit int) ([]Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, cycle_id, task_id, candidate, company, role, rationale, score, outreach, created_at
		FROM recommendations ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Recommendation
	for rows.Next() {
		var (
			r       Recommendation
			created string
		)
		if err := rows.Scan(&r.ID, &r.CycleID, &r.TaskID, &r.Candidate, &r.Company, &r.Role,
			&r.Rationale, &r.Score, &r.Outreach, &created); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("recommendation %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
