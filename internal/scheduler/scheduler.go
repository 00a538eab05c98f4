package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FireFunc is called when a schedule fires. Trigger names the schedules
// that fired, e.g. "schedule: daily 09:00".
type FireFunc func(ctx context.Context, trigger string)

// Config configures a [Scheduler].
type Config struct {
	Schedules []Schedule
	// Location is the zone for daily schedules. Default: time.Local.
	Location *time.Location
	// RunOnStart fires once as soon as Run begins.
	RunOnStart bool
	Logger     *slog.Logger
}

// Scheduler fires a callback on a set of schedules.
type Scheduler struct {
	config Config
	fire   FireFunc
	logger *slog.Logger

	mu      sync.Mutex
	base    time.Time
	next    time.Time
	running bool
	fired   int
}

// New creates a scheduler. Nothing fires until Run is called.
func New(cfg Config, fire FireFunc) *Scheduler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		config: cfg,
		fire:   fire,
		logger: logger.With("component", "scheduler"),
	}
}

// Next returns the earliest fire time after after and every schedule due
// at that instant. Coincident schedules fire once. It reports false when
// no schedule will ever fire.
func (s *Scheduler) Next(after time.Time) (time.Time, []Schedule, bool) {
	s.mu.Lock()
	base := s.base
	s.mu.Unlock()

	var (
		earliest time.Time
		due      []Schedule
	)
	for _, sch := range s.config.Schedules {
		t, ok := sch.NextRun(after, base, s.config.Location)
		if !ok {
			continue
		}
		switch {
		case earliest.IsZero() || t.Before(earliest):
			earliest = t
			due = []Schedule{sch}
		case t.Equal(earliest):
			due = append(due, sch)
		}
	}
	return earliest, due, !earliest.IsZero()
}

// Run fires the callback on schedule until ctx is cancelled. The callback
// runs synchronously, so fire times that pass while it runs are skipped
// rather than queued. Run returns nil when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("scheduler already running")
	}
	s.running = true
	s.base = time.Now()
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("scheduler started",
		"schedules", describe(s.config.Schedules),
		"timezone", s.config.Location.String(),
		"run_on_start", s.config.RunOnStart,
	)

	if s.config.RunOnStart {
		s.invoke(ctx, "startup")
	}

	for {
		if ctx.Err() != nil {
			break
		}
		next, due, ok := s.Next(time.Now())
		if !ok {
			s.logger.Warn("no schedules will fire, waiting for shutdown")
			<-ctx.Done()
			break
		}

		s.mu.Lock()
		s.next = next
		s.mu.Unlock()
		s.logger.Debug("next cycle scheduled", "at", next, "schedules", describe(due))

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
			s.invoke(ctx, "schedule: "+describe(due))
		}
	}

	s.logger.Info("scheduler stopped")
	return nil
}

// invoke runs the callback, recovering a panic so the schedule survives.
func (s *Scheduler) invoke(ctx context.Context, trigger string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduled cycle panicked", "trigger", trigger, "panic", r)
		}
	}()

	s.mu.Lock()
	s.fired++
	s.mu.Unlock()

	s.fire(ctx, trigger)
}

// Stats returns scheduler statistics.
func (s *Scheduler) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := map[string]any{
		"running":   s.running,
		"schedules": len(s.config.Schedules),
		"fired":     s.fired,
	}
	if s.running && !s.next.IsZero() {
		stats["next"] = s.next
	}
	return stats
}

func describe(schedules []Schedule) string {
	names := make([]string, len(schedules))
	for i, sch := range schedules {
		names[i] = sch.String()
	}
	return strings.Join(names, ", ")
}
