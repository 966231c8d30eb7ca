// Package engine runs one orchestration pass: it selects the due tasks,
// executes them on a bounded worker pool and persists the resulting state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"contentagent/internal/clock"
	"contentagent/internal/eventbus"
	"contentagent/internal/report"
	"contentagent/internal/storage"
	"contentagent/internal/task"
	"contentagent/internal/task/retry"
	"contentagent/internal/task/schedule"
	logx "contentagent/pkg/logx"
)

// Deps are the collaborators of a Service. Only Store is required.
type Deps struct {
	Store     storage.Store
	Registry  *task.Registry
	Scheduler *schedule.Scheduler
	Runner    *retry.Runner
	Bus       eventbus.Bus
	Clock     clock.Clock
	Log       logx.Logger

	// NewRunID defaults to uuid.NewString.
	NewRunID func() string
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log      logx.Logger
	bus      eventbus.Bus
	clock    clock.Clock
	store    storage.Store
	registry *task.Registry
	sched    *schedule.Scheduler
	runner   *retry.Runner
	newRunID func() string

	running RunState
}

func New(cfg Config, d Deps) *Service {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	c := d.Clock
	if c == nil {
		c = clock.System()
	}
	s := &Service{
		cfg:      cfg.withDefaults(),
		log:      log.With(logx.String("comp", "engine")),
		bus:      d.Bus,
		clock:    c,
		store:    d.Store,
		registry: d.Registry,
		sched:    d.Scheduler,
		runner:   d.Runner,
		newRunID: d.NewRunID,
	}
	if s.bus == nil {
		s.bus = eventbus.Nop()
	}
	if s.registry == nil {
		s.registry = task.NewRegistry()
	}
	if s.sched == nil {
		s.sched = schedule.New(c, log)
	}
	if s.runner == nil {
		s.runner = retry.New(log, retry.WithClock(c))
	}
	if s.newRunID == nil {
		s.newRunID = uuid.NewString
	}
	return s
}

// Apply swaps the configuration used by subsequent passes.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Running reports whether a pass is in flight.
func (s *Service) Running() bool { return s.running.Running() }

// Eligible returns the definitions due now, heartbeat first. Every definition
// missing from states gets a default pending entry.
//
// The heartbeat is always included: the registry's definition with that id
// if it is enabled, otherwise the implicit every_minute heartbeat.
func (s *Service) Eligible(defs []task.Definition, states task.StateMap) []task.Definition {
	now := s.sched.Now()
	hb := task.Heartbeat()

	out := make([]task.Definition, 0, len(defs)+1)
	for _, def := range defs {
		if _, ok := states[def.ID]; !ok {
			states[def.ID] = task.NewState(def.ID)
		}
		if def.ID == task.HeartbeatID {
			if def.Enabled {
				hb = def
			}
			continue
		}
		st := states[def.ID]
		if s.sched.ShouldRunAt(def, &st, now) {
			out = append(out, def)
		}
	}
	if _, ok := states[hb.ID]; !ok {
		states[hb.ID] = task.NewState(hb.ID)
	}
	return append([]task.Definition{hb}, out...)
}

// RunEligible executes one pass over defs and returns its summary.
//
// Task failures never make it return an error; they are reported in the
// summary. An error means the pass could not start: the state could not be
// loaded, or another pass is still running (ErrOverlapSkip).
func (s *Service) RunEligible(ctx context.Context, defs []task.Definition) (report.Summary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.store == nil {
		return report.Summary{}, ErrNoStore
	}
	if !s.running.tryAcquire() {
		return report.Summary{}, ErrOverlapSkip
	}
	defer s.running.release()

	cfg := s.config()
	runID := s.newRunID()
	started := s.clock.Now()
	log := s.log.With(logx.String("run_id", runID))

	states, err := s.store.Load(ctx)
	if err != nil {
		return report.Summary{}, fmt.Errorf("load state: %w", err)
	}
	if states == nil {
		states = task.StateMap{}
	}
	log.Info("run.started", logx.Int("tasks", len(defs)), logx.Int("known_states", len(states)))

	eligible := s.Eligible(defs, states)
	if len(eligible) == 1 {
		log.Info("no user tasks due, running heartbeat only")
	} else {
		log.Info("eligible tasks", logx.Int("count", len(eligible)))
	}

	collector := report.NewCollector(runID, started)
	s.dispatch(ctx, cfg, runID, eligible, states, collector, log)

	sum := collector.Summary(s.clock.Now())
	sum.DryRun = cfg.DryRun
	s.persist(ctx, cfg, log, states, &sum, eligible)

	s.bus.Publish(eventbus.Event{Type: eventbus.RunFinished, Data: eventbus.RunEvent{
		RunID:      runID,
		Executed:   len(sum.Executed),
		Failed:     len(sum.Failed),
		AllSuccess: sum.AllSuccess,
		Duration:   s.clock.Now().Sub(started),
	}})
	log.Info("run.finished",
		logx.Int("executed", len(sum.Executed)),
		logx.Int("failed", len(sum.Failed)),
		logx.Bool("all_success", sum.AllSuccess),
		logx.Bool("state_saved", sum.StateSaved),
		logx.Float64("duration_sec", sum.DurationSec),
	)
	return sum, nil
}

// persist saves states once and appends the run record. Failures are logged
// and reflected in sum; they never fail the pass.
func (s *Service) persist(ctx context.Context, cfg Config, log logx.Logger, states task.StateMap, sum *report.Summary, ran []task.Definition) {
	if cfg.DryRun {
		log.Info("dry run: skipped state save")
		return
	}
	// A shutdown signal must not cost the results of the pass that just ran.
	saveCtx := context.WithoutCancel(ctx)

	switch err := s.store.Save(saveCtx, states); {
	case err == nil:
		sum.StateSaved = true
	case errors.Is(err, storage.ErrDisabled):
		log.Info("state persistence disabled")
	default:
		sum.StateError = err.Error()
		log.Error("state save failed", logx.Err(err))
	}

	ids := make([]string, 0, len(ran))
	for _, d := range ran {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)
	rec := storage.RunRecord{
		RunID:       sum.RunID,
		StartedAt:   sum.StartedAt,
		DurationSec: sum.DurationSec,
		Executed:    len(sum.Executed),
		Failed:      len(sum.Failed),
		AllSuccess:  sum.AllSuccess,
		Tasks:       ids,
	}
	if err := s.store.AppendRun(saveCtx, rec); err != nil && !errors.Is(err, storage.ErrDisabled) {
		log.Warn("run history append failed", logx.Err(err))
	}
}
