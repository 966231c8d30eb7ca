package storage

import (
	"context"
	"errors"
	"time"

	"contentagent/internal/task"
)

// ErrDisabled is returned by writes when persistence is turned off.
var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON state file at Path
//   - "sqlite": SQLite database at Path
//   - "none": nothing is persisted; Load returns an empty map
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the engine.
type Store interface {
	// Load returns the persisted state map. A store with no state yet returns
	// an empty map and no error.
	Load(ctx context.Context) (task.StateMap, error)
	// Save replaces the persisted map with m. Readers never observe a
	// partially written map.
	Save(ctx context.Context, m task.StateMap) error
	// AppendRun records one orchestration pass in the run history.
	AppendRun(ctx context.Context, r RunRecord) error
	Close() error
}

// RunRecord is one line of run history.
type RunRecord struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	DurationSec float64   `json:"duration_sec"`
	Executed    int       `json:"executed"`
	Failed      int       `json:"failed"`
	AllSuccess  bool      `json:"all_success"`
	Tasks       []string  `json:"tasks,omitempty"`
}
