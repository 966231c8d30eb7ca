package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"contentagent/internal/clock"
	"contentagent/internal/eventbus"
	"contentagent/internal/report"
	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

type job struct {
	def task.Definition
}

type jobResult struct {
	def        task.Definition
	res        task.Result
	finishedAt time.Time
}

// dispatch fans eligible out to min(MaxConcurrency, len(eligible)) workers.
// The calling goroutine is the only writer of states and collector.
func (s *Service) dispatch(ctx context.Context, cfg Config, runID string, eligible []task.Definition, states task.StateMap, collector *report.Collector, log logx.Logger) {
	if len(eligible) == 0 {
		return
	}
	workers := min(cfg.MaxConcurrency, len(eligible))
	if workers < 1 {
		workers = 1
	}
	log.Debug("dispatch", logx.Int("workers", workers), logx.Int("max_concurrency", cfg.MaxConcurrency))

	jobs := make(chan job, len(eligible))
	results := make(chan jobResult, len(eligible))
	for _, def := range eligible {
		jobs <- job{def: def}
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker(ctx, cfg, runID, jobs, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		s.applyResult(cfg, runID, states, r)
		collector.Add(r.def, r.res)
		s.logOutcome(log, runID, r)
	}
}

func (s *Service) worker(ctx context.Context, cfg Config, runID string, jobs <-chan job, results chan<- jobResult) {
	for j := range jobs {
		res := s.execOne(ctx, cfg, runID, j.def)
		results <- jobResult{def: j.def, res: res, finishedAt: s.clock.Now()}
	}
}

// execOne runs one task to its final result. Nothing a handler does can make
// it panic or return without a result.
func (s *Service) execOne(ctx context.Context, cfg Config, runID string, def task.Definition) (res task.Result) {
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskStarted, Data: eventbus.TaskEvent{RunID: runID, TaskID: def.ID, Status: string(task.StatusRunning)}})
	s.log.Debug("task.started", logx.String("task", def.ID), logx.String("run_id", runID))

	defer func() {
		if p := recover(); p != nil {
			s.log.Error("task.panic", logx.String("task", def.ID), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
			res = task.Result{Status: task.StatusFailed, Summary: "task crashed", Error: fmt.Sprintf("panic: %v", p), Attempts: 1}
		}
	}()

	h, err := s.lookup(def.ID)
	if err != nil {
		// Configuration errors are not retried.
		return task.Result{Status: task.StatusFailed, Summary: "task not runnable", Error: err.Error(), Attempts: 0}
	}
	return s.runner.Run(ctx, def, h, cfg.Retry)
}

func (s *Service) lookup(id string) (task.Handler, error) {
	h, err := s.registry.Lookup(id)
	if err == nil {
		return h, nil
	}
	if id == task.HeartbeatID {
		return heartbeatHandler, nil
	}
	return nil, err
}

// heartbeatHandler backs the implicit heartbeat when no handler is registered.
var heartbeatHandler = task.HandlerFunc(func(ctx context.Context, def task.Definition) (task.Result, error) {
	return task.Success("agent alive"), nil
})

// applyResult folds one final result into the state map.
func (s *Service) applyResult(cfg Config, runID string, states task.StateMap, r jobResult) {
	st, ok := states[r.def.ID]
	if !ok {
		st = task.NewState(r.def.ID)
	}
	at := clock.FormatISO(r.finishedAt)
	st.TaskID = r.def.ID
	st.Status = r.res.Status
	st.LastRunAt = at
	st.NextRunAt = clock.FormatISO(s.sched.ComputeNextRun(r.def, r.finishedAt))
	st.LastResultSummary = logx.Truncate(r.res.Summary, cfg.SummaryLimit)
	st.LastError = logx.Truncate(r.res.Error, cfg.SummaryLimit)
	st.Attempts++
	st.LastAttemptAt = at
	st.RunID = runID
	states[r.def.ID] = st
}

func (s *Service) logOutcome(log logx.Logger, runID string, r jobResult) {
	ev := eventbus.TaskEvent{
		RunID:    runID,
		TaskID:   r.def.ID,
		Status:   string(r.res.Status),
		Error:    r.res.Error,
		Attempts: r.res.Attempts,
		Duration: r.res.Duration,
	}
	fields := []logx.Field{
		logx.String("task", r.def.ID),
		logx.String("status", string(r.res.Status)),
		logx.Duration("dur", r.res.Duration),
		logx.Int("attempts", r.res.Attempts),
	}
	if r.res.Status == task.StatusFailed {
		log.Warn("task.failed", append(fields, logx.String("error", r.res.Error))...)
		s.bus.Publish(eventbus.Event{Type: eventbus.TaskFailed, Time: r.finishedAt, Data: ev})
		return
	}
	log.Info("task.completed", fields...)
	s.bus.Publish(eventbus.Event{Type: eventbus.TaskFinished, Time: r.finishedAt, Data: ev})
}
