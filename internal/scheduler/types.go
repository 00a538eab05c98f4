// Package scheduler decides when recruiting cycles run: at a fixed
// interval, at wall-clock times of day, or both.
package scheduler

import (
	"fmt"
	"time"

	"github.com/nugget/talentscout/internal/config"
)

// Kind identifies the schedule type.
type Kind string

const (
	KindEvery Kind = "every" // Recurring interval
	KindDaily Kind = "daily" // Wall-clock time each day
)

// Schedule is one rule for when a cycle fires.
type Schedule struct {
	Kind   Kind
	Every  time.Duration // For "every" kind
	Hour   int           // For "daily" kind
	Minute int           // For "daily" kind
}

// String returns a short label used as the cycle trigger.
func (s Schedule) String() string {
	switch s.Kind {
	case KindEvery:
		return "every " + s.Every.String()
	case KindDaily:
		return fmt.Sprintf("daily %02d:%02d", s.Hour, s.Minute)
	default:
		return string(s.Kind)
	}
}

// NextRun returns the first fire time strictly after after. Interval
// schedules count from base; daily schedules use the wall clock in loc.
func (s Schedule) NextRun(after, base time.Time, loc *time.Location) (time.Time, bool) {
	switch s.Kind {
	case KindEvery:
		if s.Every <= 0 {
			return time.Time{}, false
		}
		if base.IsZero() {
			base = after
		}
		elapsed := after.Sub(base)
		if elapsed < 0 {
			return base, true
		}
		intervals := int64(elapsed/s.Every) + 1
		return base.Add(time.Duration(intervals) * s.Every), true

	case KindDaily:
		if loc == nil {
			loc = time.Local
		}
		local := after.In(loc)
		next := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, loc)
		for !next.After(after) {
			local = local.AddDate(0, 0, 1)
			next = time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, loc)
		}
		return next, true

	default:
		return time.Time{}, false
	}
}

// FromConfig builds schedules from the schedule section of the config.
func FromConfig(cfg config.ScheduleConfig) ([]Schedule, error) {
	var out []Schedule
	if cfg.Every > 0 {
		out = append(out, Schedule{Kind: KindEvery, Every: cfg.Every})
	}
	for _, d := range cfg.Daily {
		h, m, err := config.ParseClock(d)
		if err != nil {
			return nil, err
		}
		out = append(out, Schedule{Kind: KindDaily, Hour: h, Minute: m})
	}
	return out, nil
}
