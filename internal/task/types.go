package task

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle status of a task, both as a persisted state and as
// the outcome of a single run.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped"
)

// Terminal reports whether s is a final run outcome.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusSkipped
}

// Frequency is a task's run cadence. See schedule.Interval for the vocabulary.
type Frequency string

const (
	EveryMinute Frequency = "every_minute"
	Every5Min   Frequency = "every_5_min"
	Every15Min  Frequency = "every_15_min"
	Every30Min  Frequency = "every_30_min"
	Hourly      Frequency = "hourly"
	Daily       Frequency = "daily"
	Weekly      Frequency = "weekly"

	// DefaultCadence applies when a definition omits its frequency.
	DefaultCadence = Daily
)

// CronPrefix introduces a cron-expression frequency, e.g. "cron:0 9 * * 1-5".
const CronPrefix = "cron:"

// Normalized lowercases and trims the frequency. The cron expression after a
// "cron:" prefix keeps its case.
func (f Frequency) Normalized() Frequency {
	s := strings.TrimSpace(string(f))
	if len(s) >= len(CronPrefix) && strings.EqualFold(s[:len(CronPrefix)], CronPrefix) {
		return Frequency(CronPrefix + strings.TrimSpace(s[len(CronPrefix):]))
	}
	return Frequency(strings.ToLower(s))
}

// HeartbeatID is the id of the task dispatched on every run.
const HeartbeatID = "heartbeat"

// Definition is an immutable task definition loaded from the registry file.
//
// Params is handler-specific; the orchestrator never looks inside it.
type Definition struct {
	ID        string         `json:"id"`
	Title     string         `json:"title"`
	Enabled   bool           `json:"enabled"`
	Frequency Frequency      `json:"frequency"`
	Params    map[string]any `json:"params,omitempty"`
}

// UnmarshalJSON applies the registry defaults: enabled=true and
// frequency=daily when the fields are omitted.
func (d *Definition) UnmarshalJSON(b []byte) error {
	type raw struct {
		ID        string         `json:"id"`
		Title     string         `json:"title"`
		Enabled   *bool          `json:"enabled"`
		Frequency Frequency      `json:"frequency"`
		Params    map[string]any `json:"params"`
	}
	var r raw
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	d.ID = strings.TrimSpace(r.ID)
	d.Title = r.Title
	d.Enabled = r.Enabled == nil || *r.Enabled
	d.Frequency = r.Frequency
	if strings.TrimSpace(string(d.Frequency)) == "" {
		d.Frequency = DefaultCadence
	}
	d.Params = r.Params
	return nil
}

// DisplayName returns the title, falling back to the id.
func (d Definition) DisplayName() string {
	if t := strings.TrimSpace(d.Title); t != "" {
		return t
	}
	return d.ID
}

// Heartbeat is the implicit always-eligible task.
func Heartbeat() Definition {
	return Definition{ID: HeartbeatID, Title: "Heartbeat", Enabled: true, Frequency: EveryMinute}
}

// State is the persisted per-task record. Timestamps are ISO-8601 strings so
// files written by older agents stay readable.
type State struct {
	TaskID            string `json:"task_id"`
	Status            Status `json:"status"`
	LastRunAt         string `json:"last_run_at,omitempty"`
	NextRunAt         string `json:"next_run_at,omitempty"`
	LastResultSummary string `json:"last_result_summary,omitempty"`
	LastError         string `json:"last_error,omitempty"`
	Attempts          int    `json:"attempts"`
	LastAttemptAt     string `json:"last_attempt_at,omitempty"`
	RunID             string `json:"run_id,omitempty"`
}

// NewState returns the default record created on the first eligibility check.
func NewState(id string) State {
	return State{TaskID: id, Status: StatusPending}
}

// StateMap maps task id to state.
type StateMap map[string]State

// Clone returns a shallow copy of m.
func (m StateMap) Clone() StateMap {
	out := make(StateMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Result is what a handler invocation produced.
//
// Construct it with Success, Failed or Skipped; Normalize enforces the
// status/error invariant for hand-built values.
type Result struct {
	Status   Status         `json:"status"`
	Summary  string         `json:"summary"`
	Error    string         `json:"error,omitempty"`
	Metrics  map[string]any `json:"metrics,omitempty"`
	Duration time.Duration  `json:"-"`

	// Attempts is the number of handler invocations the retry runner made.
	// It is diagnostic only and never persisted.
	Attempts int `json:"-"`
}

func Success(summary string) Result {
	return Result{Status: StatusSuccess, Summary: summary}
}

func Failed(err string) Result {
	return Result{Status: StatusFailed, Summary: "task failed", Error: err}
}

func Skipped(reason string) Result {
	return Result{Status: StatusSkipped, Summary: reason}
}

// WithMetrics returns r with metrics set.
func (r Result) WithMetrics(m map[string]any) Result {
	r.Metrics = m
	return r
}

// DurationSec returns the wall-clock duration in seconds.
func (r Result) DurationSec() float64 { return r.Duration.Seconds() }

// Normalize enforces failed => non-empty error and success => empty error.
// Unknown statuses become failed.
func (r Result) Normalize() Result {
	switch r.Status {
	case StatusSuccess:
		r.Error = ""
	case StatusSkipped:
	case StatusFailed:
		if strings.TrimSpace(r.Error) == "" {
			r.Error = "unknown error"
		}
	default:
		r.Error = "invalid result status " + string(r.Status)
		r.Status = StatusFailed
	}
	return r
}

// Outcome is one task's entry in a run summary.
type Outcome struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Status      Status         `json:"status"`
	Summary     string         `json:"summary,omitempty"`
	Error       string         `json:"error,omitempty"`
	DurationSec float64        `json:"duration_sec"`
	Attempts    int            `json:"attempts"`
	Metrics     map[string]any `json:"metrics,omitempty"`
}

// NewOutcome builds the summary entry for def from its final result.
func NewOutcome(def Definition, r Result) Outcome {
	return Outcome{
		ID:          def.ID,
		Title:       def.DisplayName(),
		Status:      r.Status,
		Summary:     r.Summary,
		Error:       r.Error,
		DurationSec: r.DurationSec(),
		Attempts:    r.Attempts,
		Metrics:     r.Metrics,
	}
}
