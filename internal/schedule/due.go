// Package schedule computes when schedule-type triggers fire and runs the
// ones that are due.
package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"gitlab.com/timkado/api/daisi-function-engine/internal/apperrors"
	"gitlab.com/timkado/api/daisi-function-engine/internal/model"
)

// maxSearchDays bounds the time-of-day search; filters like Feb 30 never match.
const maxSearchDays = 5 * 366

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Spec is the timing part of a schedule, exactly one form set.
type Spec struct {
	Cron        string
	TimeOfDay   string // HH:MM
	DaysOfWeek  []int  // ISO: 1 = Monday .. 7 = Sunday, 0 also Sunday
	DaysOfMonth []int
	Months      []int
	Interval    int
	Unit        model.IntervalUnit
	Location    *time.Location
}

// SpecFrom reads the timing fields of a stored schedule.
func SpecFrom(s *model.Schedule) Spec {
	return Spec{
		Cron:        strings.TrimSpace(s.CronExpression),
		TimeOfDay:   strings.TrimSpace(s.TimeOfDay),
		DaysOfWeek:  s.DaysOfWeek,
		DaysOfMonth: s.DaysOfMonth,
		Months:      s.Months,
		Interval:    s.Interval,
		Unit:        s.IntervalUnit,
		Location:    s.Location(),
	}
}

// NextRun returns the first fire time strictly after lastRun, or after now
// when the schedule never ran.
func NextRun(spec Spec, lastRun *time.Time, now time.Time) (time.Time, error) {
	ref := now
	if lastRun != nil && !lastRun.IsZero() {
		ref = *lastRun
	}
	loc := spec.Location
	if loc == nil {
		loc = time.UTC
	}

	switch {
	case spec.Cron != "":
		sched, err := cronParser.Parse(spec.Cron)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: cron %q: %w", apperrors.ErrSchedule, spec.Cron, err)
		}
		next := sched.Next(ref.In(loc))
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("%w: cron %q never fires", apperrors.ErrSchedule, spec.Cron)
		}
		return next.UTC(), nil

	case spec.TimeOfDay != "":
		return nextTimeOfDay(spec, lastRun, ref.In(loc))

	case spec.Interval > 0:
		step, err := intervalDuration(spec.Interval, spec.Unit)
		if err != nil {
			return time.Time{}, err
		}
		return ref.Add(step).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: no cron, time of day or interval configured", apperrors.ErrSchedule)
}

// IsDue reports whether s should fire at now. A schedule without next_run_at
// is computed from its last run, or from its creation when it never ran; the
// computed time is stored on s.
func IsDue(spec Spec, s *model.Schedule, now time.Time) (bool, error) {
	if !s.IsActive {
		return false, nil
	}
	if s.NextRunAt == nil {
		from := now
		if s.LastRunAt == nil && !s.CreatedAt.IsZero() {
			from = s.CreatedAt
		}
		next, err := NextRun(spec, s.LastRunAt, from)
		if err != nil {
			return false, err
		}
		s.NextRunAt = &next
	}
	return !s.NextRunAt.After(now), nil
}

func intervalDuration(n int, unit model.IntervalUnit) (time.Duration, error) {
	switch unit {
	case model.UnitMinutes, "":
		return time.Duration(n) * time.Minute, nil
	case model.UnitHours:
		return time.Duration(n) * time.Hour, nil
	case model.UnitDays:
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("%w: unknown interval unit %q", apperrors.ErrSchedule, unit)
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("%w: time of day %q is not HH:MM", apperrors.ErrSchedule, s)
	}
	hour, errH := strconv.Atoi(parts[0])
	minute, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: time of day %q is not HH:MM", apperrors.ErrSchedule, s)
	}
	return hour, minute, nil
}

// nextTimeOfDay walks forward day by day from ref. A day the schedule already
// ran on is skipped.
func nextTimeOfDay(spec Spec, lastRun *time.Time, ref time.Time) (time.Time, error) {
	hour, minute, err := parseClock(spec.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	loc := ref.Location()

	var ranY, ranD int
	var ranM time.Month
	if lastRun != nil && !lastRun.IsZero() {
		ranY, ranM, ranD = lastRun.In(loc).Date()
	}

	y, m, d := ref.Date()
	for i := 0; i <= maxSearchDays; i++ {
		candidate := time.Date(y, m, d+i, hour, minute, 0, 0, loc)
		if !candidate.After(ref) {
			continue
		}
		cy, cm, cd := candidate.Date()
		if cy == ranY && cm == ranM && cd == ranD {
			continue
		}
		if !dayMatches(spec, candidate) {
			continue
		}
		return candidate.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: no day matches the configured filters", apperrors.ErrSchedule)
}

func dayMatches(spec Spec, t time.Time) bool {
	if len(spec.Months) > 0 && !containsInt(spec.Months, int(t.Month())) {
		return false
	}
	if len(spec.DaysOfMonth) > 0 && !containsInt(spec.DaysOfMonth, t.Day()) {
		return false
	}
	if len(spec.DaysOfWeek) > 0 {
		iso := int(t.Weekday())
		if iso == 0 {
			iso = 7
		}
		matched := false
		for _, d := range spec.DaysOfWeek {
			if d == iso || (d == 0 && iso == 7) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
