package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"contentagent/internal/runtime/supervisor"
	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

// shutdownTimeout bounds how long Stop waits for the in-flight pass and the
// supervised goroutines.
const shutdownTimeout = 30 * time.Second

var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RunDaemon runs a pass at startup and then on every daemon.schedule tick
// until ctx is done. Ticks that fire while a pass is running are skipped.
// With daemon.watch_tasks set, a change to the task file triggers an extra
// pass with the new definitions.
//
// It returns nil on a clean shutdown; task failures never end the loop.
func (a *App) RunDaemon(ctx context.Context) error {
	if _, err := a.tasks.Load(); err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}

	sup := supervisor.New(ctx,
		supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))),
		supervisor.WithCancelOnError(true),
	)
	runCtx := sup.Context()

	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cronLogger{log: a.log.With(logx.String("comp", "cron"))}),
		cron.WithChain(cron.Recover(cronLogger{log: a.log})),
	)
	if _, err := c.AddFunc(a.cfg.Daemon.Schedule, func() {
		a.runPass(runCtx, a.tasks.Get(), "schedule")
	}); err != nil {
		sup.Cancel()
		return fmt.Errorf("daemon.schedule: %w", err)
	}

	events, unsub := a.bus.Subscribe(128)
	sup.Go0("eventbus.log", func(ctx context.Context) {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	if a.cfg.Daemon.WatchTasks {
		sub := a.tasks.Subscribe(1)
		sup.GoRestart("tasks.watch", time.Second, 30*time.Second, a.tasks.Watch)
		sup.Go0("tasks.reload", func(ctx context.Context) {
			defer a.tasks.Unsubscribe(sub)
			for {
				select {
				case <-ctx.Done():
					return
				case defs, ok := <-sub:
					if !ok {
						return
					}
					a.runPass(ctx, defs, "tasks changed")
				}
			}
		})
	}
	sup.Go0("systemd.watchdog", a.sd.Watchdog)

	sup.Go0("startup", func(ctx context.Context) { a.runPass(ctx, a.tasks.Get(), "startup") })
	c.Start()

	a.sd.Ready()
	a.sd.Status("running, schedule " + a.cfg.Daemon.Schedule)
	a.log.Info("daemon started",
		logx.String("schedule", a.cfg.Daemon.Schedule),
		logx.Bool("watch_tasks", a.cfg.Daemon.WatchTasks),
	)

	<-runCtx.Done()
	a.sd.Stopping()
	a.log.Info("daemon stopping")

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	select {
	case <-c.Stop().Done():
	case <-stopCtx.Done():
		a.log.Warn("scheduled pass still running at shutdown deadline")
	}
	err := sup.Wait(stopCtx)
	if errors.Is(err, context.DeadlineExceeded) {
		a.log.Warn("supervised goroutines still running at shutdown deadline", logx.Int64("active", sup.Counters().Active))
		err = nil
	}
	a.log.Info("daemon stopped")
	return err
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}

// Tasks returns the current task snapshot.
func (a *App) Tasks() []task.Definition { return a.tasks.Get() }
