package runlog

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestCycleLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()

	c, err := s.StartCycle(ctx, "schedule:every", 3, 4)
	if err != nil {
		t.Fatalf("StartCycle: %v", err)
	}
	if c.ID == "" || c.Status != StatusRunning {
		t.Fatalf("cycle = %+v", c)
	}

	c.Status = StatusPartial
	c.Failed = 1
	if err := s.FinishCycle(ctx, c); err != nil {
		t.Fatalf("FinishCycle: %v", err)
	}

	cycles, err := s.RecentCycles(ctx, 10)
	if err != nil {
		t.Fatalf("RecentCycles: %v", err)
	}
	if len(cycles) != 1 {
		t.Fatalf("cycles = %d, want 1", len(cycles))
	}
	got := cycles[0]
	if got.ID != c.ID || got.Trigger != "schedule:every" || got.Status != StatusPartial {
		t.Errorf("cycle = %+v", got)
	}
	if got.Tools != 3 || got.Tasks != 4 || got.Failed != 1 {
		t.Errorf("counts = %d/%d/%d", got.Tools, got.Tasks, got.Failed)
	}
	if got.FinishedAt == nil || got.Duration() < 0 {
		t.Errorf("finished_at = %v", got.FinishedAt)
	}
	if !got.StartedAt.Equal(c.StartedAt) {
		t.Errorf("started_at = %v, want %v", got.StartedAt, c.StartedAt)
	}
}

func TestFinishCycle_Unknown(t *testing.T) {
	s := setupTestStore(t)
	if err := s.FinishCycle(t.Context(), &Cycle{ID: "nope", Status: StatusOK}); err == nil {
		t.Error("FinishCycle of an unknown cycle should fail")
	}
}

func TestRecentCycles_NewestFirst(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()

	var ids []string
	for _, trig := range []string{"a", "b", "c"} {
		c, err := s.StartCycle(ctx, trig, 0, 1)
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, c.ID)
		time.Sleep(2 * time.Millisecond)
	}

	cycles, err := s.RecentCycles(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(cycles) != 2 || cycles[0].ID != ids[2] || cycles[1].ID != ids[1] {
		t.Errorf("order = %v", cycles)
	}
	if cycles[0].FinishedAt != nil || cycles[0].Duration() != 0 {
		t.Error("running cycle should have no finish time")
	}
}

func TestMarkInterrupted(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()

	running, _ := s.StartCycle(ctx, "manual", 0, 1)
	done, _ := s.StartCycle(ctx, "manual", 0, 1)
	done.Status = StatusOK
	if err := s.FinishCycle(ctx, done); err != nil {
		t.Fatal(err)
	}

	n, err := s.MarkInterrupted(ctx)
	if err != nil || n != 1 {
		t.Fatalf("MarkInterrupted = %d, %v; want 1", n, err)
	}

	cycles, _ := s.RecentCycles(ctx, 10)
	for _, c := range cycles {
		switch c.ID {
		case running.ID:
			if c.Status != StatusInterrupted || c.FinishedAt == nil {
				t.Errorf("running cycle = %+v", c)
			}
		case done.ID:
			if c.Status != StatusOK {
				t.Errorf("finished cycle = %+v", c)
			}
		}
	}
}

func TestTaskResults(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()
	c, _ := s.StartCycle(ctx, "manual", 2, 2)

	second := &TaskResult{CycleID: c.ID, Seq: 1, Task: "Analyze hiring signals", Error: "iteration limit reached", Iterations: 10}
	first := &TaskResult{
		CycleID:      c.ID,
		Seq:          0,
		Task:         "Check for new talent profiles",
		Output:       "Found 3 candidates.",
		Iterations:   2,
		ToolCalls:    3,
		InputTokens:  1200,
		OutputTokens: 300,
		Duration:     1500 * time.Millisecond,
	}
	for _, r := range []*TaskResult{second, first} {
		if err := s.RecordTask(ctx, r); err != nil {
			t.Fatalf("RecordTask: %v", err)
		}
	}

	results, err := s.TaskResults(ctx, c.ID)
	if err != nil {
		t.Fatalf("TaskResults: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].ID != first.ID || results[0].Output != "Found 3 candidates." || results[0].Duration != 1500*time.Millisecond {
		t.Errorf("first = %+v", results[0])
	}
	if results[0].ToolCalls != 3 || results[0].InputTokens != 1200 {
		t.Errorf("counters = %+v", results[0])
	}
	if results[1].Error != "iteration limit reached" {
		t.Errorf("second = %+v", results[1])
	}

	if other, err := s.TaskResults(ctx, "other"); err != nil || len(other) != 0 {
		t.Errorf("TaskResults(other) = %v, %v", other, err)
	}
}

func TestRecommendations(t *testing.T) {
	s := setupTestStore(t)
	ctx := t.Context()
	c, _ := s.StartCycle(ctx, "manual", 1, 1)

	if err := s.RecordRecommendation(ctx, &Recommendation{CycleID: c.ID}); err == nil {
		t.Error("recommendation without candidate should fail")
	}

	old := &Recommendation{CycleID: c.ID, Candidate: "John Roe", CreatedAt: time.Now().Add(-time.Hour)}
	recent := &Recommendation{
		CycleID:   c.ID,
		TaskID:    "task-1",
		Candidate: "Jane Doe",
		Company:   "Acme",
		Role:      "Staff ML Engineer",
		Rationale: "Laid off last week.",
		Score:     9,
		Outreach:  "Hi Jane,",
	}
	for _, r := range []*Recommendation{old, recent} {
		if err := s.RecordRecommendation(ctx, r); err != nil {
			t.Fatalf("RecordRecommendation: %v", err)
		}
	}

	recs, err := s.RecentRecommendations(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRecommendations: %v", err)
	}
	if len(recs) != 2 || recs[0].Candidate != "Jane Doe" || recs[1].Candidate != "John Roe" {
		t.Fatalf("recs = %+v", recs)
	}
	r := recs[0]
	if r.Company != "Acme" || r.Role != "Staff ML Engineer" || r.Score != 9 || r.TaskID != "task-1" || r.Outreach != "Hi Jane," {
		t.Errorf("rec = %+v", r)
	}
}

func TestNewID_TimeOrdered(t *testing.T) {
	a, b := NewID(), NewID()
	if a == b || len(a) != 36 {
		t.Errorf("ids = %q, %q", a, b)
	}
	if a > b {
		t.Errorf("UUIDv7 ids should sort by creation: %q > %q", a, b)
	}
}
