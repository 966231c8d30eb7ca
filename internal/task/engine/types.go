package engine

import (
	"errors"
	"sync"

	"contentagent/internal/task/retry"
)

var (
	ErrNoStore     = errors.New("task engine has no state store")
	ErrOverlapSkip = errors.New("run skipped: previous run still in progress")
)

// DefaultSummaryLimit caps persisted summaries and errors, in bytes.
const DefaultSummaryLimit = 500

// Config controls one orchestration pass.
type Config struct {
	// MaxConcurrency is a hard cap on concurrently executing handlers.
	MaxConcurrency int
	Retry          retry.Policy
	// DryRun runs handlers but skips the state save and run history.
	DryRun       bool
	SummaryLimit int
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 5
	}
	if c.Retry.MaxRetries < 0 {
		c.Retry.MaxRetries = 0
	}
	if c.SummaryLimit <= 0 {
		c.SummaryLimit = DefaultSummaryLimit
	}
	return c
}

// RunState tracks whether a pass is already in flight. Triggers that arrive
// while one is running are skipped rather than queued.
type RunState struct {
	mu       sync.Mutex
	inflight int
}

func (s *RunState) tryAcquire() bool {
	if s == nil {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *RunState) release() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

// Running reports whether a pass is in flight.
func (s *RunState) Running() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight > 0
}
