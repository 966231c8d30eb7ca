// Package schedule decides whether a task is due and when it is due next.
//
// Frequencies are a small fixed vocabulary (see Interval). A "cron:<expr>"
// frequency is evaluated with robfig/cron. Anything else is unknown: the task
// is allowed to run (with a warning) so a typo never blocks a task forever.
package schedule

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"contentagent/internal/clock"
	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

// UnknownNextRun is the offset used by ComputeNextRun for unknown frequencies.
const UnknownNextRun = 24 * time.Hour

var intervals = map[task.Frequency]time.Duration{
	task.EveryMinute: time.Minute,
	task.Every5Min:   5 * time.Minute,
	task.Every15Min:  15 * time.Minute,
	task.Every30Min:  30 * time.Minute,
	task.Hourly:      time.Hour,
	task.Daily:       24 * time.Hour,
	task.Weekly:      7 * 24 * time.Hour,
}

// Interval returns the minimum gap between two runs for a vocabulary frequency.
func Interval(f task.Frequency) (time.Duration, bool) {
	d, ok := intervals[f.Normalized()]
	return d, ok
}

type Scheduler struct {
	clock  clock.Clock
	log    logx.Logger
	parser cron.Parser
}

func New(c clock.Clock, log logx.Logger) *Scheduler {
	if c == nil {
		c = clock.System()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{
		clock: c,
		log:   log,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Now returns the scheduler's clock reading.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// ShouldRun reports whether def is due now given its last known state.
// A nil state means the task has never run.
func (s *Scheduler) ShouldRun(def task.Definition, st *task.State) bool {
	return s.ShouldRunAt(def, st, s.clock.Now())
}

// ShouldRunAt is ShouldRun evaluated at now.
func (s *Scheduler) ShouldRunAt(def task.Definition, st *task.State, now time.Time) bool {
	if !def.Enabled {
		return false
	}
	if st == nil {
		return true
	}
	last, ok := clock.ParseISO(st.LastRunAt)
	if !ok {
		return true
	}

	freq := def.Frequency.Normalized()
	if d, ok := intervals[freq]; ok {
		return now.Sub(last) >= d
	}
	if sched, ok := s.cronSchedule(def.ID, freq); ok {
		next := sched.Next(last)
		return !next.IsZero() && !now.Before(next)
	}

	s.log.Warn("unknown frequency, allowing run", logx.String("task", def.ID), logx.String("frequency", string(def.Frequency)))
	return true
}

// ComputeNextRun returns the earliest time def becomes due again after a run
// that completed at runTime.
func (s *Scheduler) ComputeNextRun(def task.Definition, runTime time.Time) time.Time {
	freq := def.Frequency.Normalized()
	if d, ok := intervals[freq]; ok {
		return runTime.Add(d)
	}
	if sched, ok := s.cronSchedule(def.ID, freq); ok {
		if next := sched.Next(runTime); !next.IsZero() {
			return next
		}
	}
	return runTime.Add(UnknownNextRun)
}

func (s *Scheduler) cronSchedule(id string, freq task.Frequency) (cron.Schedule, bool) {
	raw := string(freq)
	if !strings.HasPrefix(raw, task.CronPrefix) {
		return nil, false
	}
	expr := strings.TrimSpace(raw[len(task.CronPrefix):])
	sched, err := s.parser.Parse(expr)
	if err != nil {
		s.log.Warn("invalid cron frequency", logx.String("task", id), logx.String("expr", expr), logx.Err(err))
		return nil, false
	}
	return sched, true
}
