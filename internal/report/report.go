// Package report collects per-task outcomes into a run summary and renders
// it for notification channels.
package report

import (
	"context"
	"sync"
	"time"

	"contentagent/internal/task"
)

// Summary describes one orchestration pass.
type Summary struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	DurationSec float64        `json:"duration_sec"`
	Executed    []task.Outcome `json:"executed"` // success and skipped
	Failed      []task.Outcome `json:"failed"`
	AllSuccess  bool           `json:"all_success"`
	StateSaved  bool           `json:"state_saved"`
	StateError  string         `json:"state_error,omitempty"`
	DryRun      bool           `json:"dry_run,omitempty"`
	Tasks       []task.Outcome `json:"tasks"`
}

// ExitCode is 0 when every dispatched task ended success or skipped.
func (s Summary) ExitCode() int {
	if s.AllSuccess {
		return 0
	}
	return 1
}

// ByStatus returns the outcomes with status st, in completion order.
func (s Summary) ByStatus(st task.Status) []task.Outcome {
	var out []task.Outcome
	for _, o := range s.Tasks {
		if o.Status == st {
			out = append(out, o)
		}
	}
	return out
}

// Notifier delivers rendered run reports. The engine never calls it; the
// application decides when and whether to notify.
type Notifier interface {
	NotifySummary(ctx context.Context, s Summary) error
	NotifyAlert(ctx context.Context, s Summary) error
}

// Collector accumulates outcomes from concurrent workers.
type Collector struct {
	mu        sync.Mutex
	runID     string
	startedAt time.Time
	outcomes  []task.Outcome
}

func NewCollector(runID string, startedAt time.Time) *Collector {
	return &Collector{runID: runID, startedAt: startedAt}
}

// Add records the final result for def.
func (c *Collector) Add(def task.Definition, r task.Result) {
	o := task.NewOutcome(def, r)
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
}

// Len returns the number of outcomes recorded so far.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outcomes)
}

// Summary builds the run summary as of finishedAt. Every outcome lands in
// exactly one of Executed (success and skipped) or Failed, in completion
// order. AllSuccess is true iff Failed is empty.
func (c *Collector) Summary(finishedAt time.Time) Summary {
	c.mu.Lock()
	tasks := make([]task.Outcome, len(c.outcomes))
	copy(tasks, c.outcomes)
	c.mu.Unlock()

	s := Summary{
		RunID:       c.runID,
		StartedAt:   c.startedAt,
		DurationSec: finishedAt.Sub(c.startedAt).Seconds(),
		Tasks:       tasks,
	}
	if s.DurationSec < 0 {
		s.DurationSec = 0
	}
	for _, o := range tasks {
		if o.Status == task.StatusFailed {
			s.Failed = append(s.Failed, o)
		} else {
			s.Executed = append(s.Executed, o)
		}
	}
	s.AllSuccess = len(s.Failed) == 0
	return s
}
