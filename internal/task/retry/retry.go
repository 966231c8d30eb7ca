// Package retry wraps a single handler execution in a bounded retry loop.
//
// The loop is blind to the cause of a failure: every failed attempt is
// retried until the budget is spent. Handlers opt out of retries by
// returning a skipped result.
package retry

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"contentagent/internal/clock"
	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

// Policy bounds the retry loop.
type Policy struct {
	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries int
	// Backoff[i] is the wait after failed attempt i+1. Indexes past the end
	// reuse the last value; an empty schedule retries immediately.
	Backoff []time.Duration
	// AttemptTimeout bounds each handler invocation. 0 disables it.
	AttemptTimeout time.Duration
}

// DefaultPolicy mirrors the agent defaults: 2 retries, 1s/3s/7s backoff.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, Backoff: []time.Duration{time.Second, 3 * time.Second, 7 * time.Second}}
}

// Delay returns the wait before the retry that follows failed attempt index
// (0-based).
func (p Policy) Delay(index int) time.Duration {
	if len(p.Backoff) == 0 || index < 0 {
		return 0
	}
	if index >= len(p.Backoff) {
		index = len(p.Backoff) - 1
	}
	if d := p.Backoff[index]; d > 0 {
		return d
	}
	return 0
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Runner struct {
	log   logx.Logger
	sleep SleepFunc
	now   func() time.Time
}

type Option func(*Runner)

// WithSleep replaces the backoff sleep. Tests use it to record waits.
func WithSleep(fn SleepFunc) Option {
	return func(r *Runner) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// WithClock makes duration measurement use c.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) {
		if c != nil {
			r.now = c.Now
		}
	}
}

func New(log logx.Logger, opts ...Option) *Runner {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Runner{log: log, sleep: clock.Sleep, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run invokes h up to p.MaxRetries+1 times and returns the final result.
//
// A success or skipped result ends the loop. A failed result, a returned
// error or a panic consumes an attempt. When attempts are exhausted the last
// result a handler actually returned wins; if none ever did, a failed result
// carrying the last error is synthesized.
func (r *Runner) Run(ctx context.Context, def task.Definition, h task.Handler, p Policy) task.Result {
	if ctx == nil {
		ctx = context.Background()
	}
	maxAttempts := 1 + max(0, p.MaxRetries)

	var (
		last     *task.Result
		lastErr  error
		lastDur  time.Duration
		attempts int
	)

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		r.log.Debug("task.attempt", logx.String("task", def.ID), logx.Int("attempt", attempt), logx.Int("max_attempts", maxAttempts))

		res, err := r.attempt(ctx, def, h, p.AttemptTimeout)
		lastDur = res.Duration
		if err != nil {
			lastErr = err
		} else {
			res = res.Normalize()
			res.Attempts = attempt
			last = &res
			if res.Status == task.StatusSuccess || res.Status == task.StatusSkipped {
				if attempt > 1 {
					r.log.Info("task recovered after retry", logx.String("task", def.ID), logx.Int("attempt", attempt))
				}
				return res
			}
			lastErr = errors.New(res.Error)
		}

		if attempt >= maxAttempts {
			break
		}
		delay := p.Delay(attempt - 1)
		r.log.Info("task retry scheduled", logx.String("task", def.ID), logx.Int("attempt", attempt+1), logx.Duration("delay", delay), logx.Err(lastErr))
		if err := r.sleep(ctx, delay); err != nil {
			lastErr = fmt.Errorf("retry aborted: %w", err)
			last = nil
			break
		}
	}

	if last != nil {
		r.log.Warn("task failed after retries", logx.String("task", def.ID), logx.Int("attempts", attempts), logx.String("error", last.Error))
		return *last
	}

	msg := "unknown error"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	r.log.Warn("task failed after retries", logx.String("task", def.ID), logx.Int("attempts", attempts), logx.String("error", msg))
	return task.Result{
		Status:   task.StatusFailed,
		Summary:  fmt.Sprintf("task failed after %d attempts", attempts),
		Error:    msg,
		Duration: lastDur,
		Attempts: attempts,
	}
}

// attempt runs h once, converting panics into errors and measuring duration.
func (r *Runner) attempt(ctx context.Context, def task.Definition, h task.Handler, timeout time.Duration) (res task.Result, err error) {
	if h == nil {
		return task.Result{}, &task.ConfigError{TaskID: def.ID, Err: task.ErrUnknownTask}
	}
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := r.now()
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			r.log.Error("task.panic", logx.String("task", def.ID), logx.Any("panic", p), logx.Stack(string(debug.Stack())))
		}
		res.Duration = r.now().Sub(start)
	}()

	res, err = h.Execute(runCtx, def)
	if err != nil && strings.TrimSpace(err.Error()) == "" {
		err = errors.New("handler returned an empty error")
	}
	return res, err
}
