// Package app wires configuration, storage, handlers, the engine and the
// notifier into the agent's two modes: a single pass (RunOnce) and the
// scheduled daemon (RunDaemon).
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"contentagent/internal/clock"
	"contentagent/internal/config"
	"contentagent/internal/eventbus"
	"contentagent/internal/handlers"
	"contentagent/internal/notifier"
	"contentagent/internal/registry"
	"contentagent/internal/report"
	"contentagent/internal/storage"
	"contentagent/internal/task"
	"contentagent/internal/task/engine"
	"contentagent/internal/task/retry"
	"contentagent/internal/task/schedule"
	logx "contentagent/pkg/logx"
	"contentagent/pkg/systemd"
)

// notifyTimeout bounds report delivery after a pass, across all retries.
const notifyTimeout = 2 * time.Minute

type App struct {
	cfg *config.Config

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store  storage.Store
	tasks  *registry.Manager
	engine *engine.Service
	notif  *notifier.Service
	sd     *systemd.Notifier
}

type Option func(*options)

type options struct {
	clock    clock.Clock
	log      *logx.Logger
	register []func(*task.Registry) error
	channels []notifier.Channel
}

func WithClock(c clock.Clock) Option { return func(o *options) { o.clock = c } }

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(l logx.Logger) Option { return func(o *options) { o.log = &l } }

// WithHandlers registers additional task handlers next to the built-in ones.
func WithHandlers(fn func(*task.Registry) error) Option {
	return func(o *options) { o.register = append(o.register, fn) }
}

// WithChannels adds notification channels to the configured ones.
func WithChannels(chs ...notifier.Channel) Option {
	return func(o *options) { o.channels = append(o.channels, chs...) }
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	clk := o.clock
	if clk == nil {
		clk = clock.System()
	}

	var (
		logs *logx.Service
		log  logx.Logger
	)
	if o.log != nil {
		log = *o.log
	} else {
		logs, log = logx.New(cfg.Logging.Logx())
	}
	log.Debug("effective config", logx.String("config", cfg.Redacted()))

	store, err := storage.Open(storageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		closeLogs(logs)
		return nil, fmt.Errorf("open state store: %w", err)
	}

	reg := task.NewRegistry()
	register := append([]func(*task.Registry) error{
		func(r *task.Registry) error { return handlers.Register(r, handlers.Deps{Clock: clk}) },
	}, o.register...)
	for _, fn := range register {
		if err := fn(reg); err != nil {
			_ = store.Close()
			closeLogs(logs)
			return nil, err
		}
	}

	channels, err := notifierChannels(cfg)
	if err != nil {
		_ = store.Close()
		closeLogs(logs)
		return nil, err
	}
	channels = append(channels, o.channels...)

	bus := eventbus.New()
	eng := engine.New(engineConfig(cfg), engine.Deps{
		Store:     store,
		Registry:  reg,
		Scheduler: schedule.New(clk, log.With(logx.String("comp", "schedule"))),
		Runner:    retry.New(log.With(logx.String("comp", "retry")), retry.WithClock(clk)),
		Bus:       bus,
		Clock:     clk,
		Log:       log,
	})

	a := &App{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "app")),
		logs:   logs,
		bus:    bus,
		store:  store,
		tasks:  registry.NewManager(cfg.TasksFile, log.With(logx.String("comp", "registry"))),
		engine: eng,
		notif:  notifier.New(notifierConfig(cfg), log, channels...),
		sd:     systemd.NewNotifier(log.With(logx.String("comp", "systemd"))),
	}
	a.log.Info("agent ready",
		logx.String("tasks_file", cfg.TasksFile),
		logx.String("state_driver", storageConfig(cfg).Driver),
		logx.Strs("handlers", reg.IDs()),
		logx.Strs("channels", a.notif.Channels()),
		logx.Bool("dry_run", cfg.DryRun),
	)
	return a, nil
}

// Close releases the store and the log file.
func (a *App) Close() error {
	err := a.store.Close()
	closeLogs(a.logs)
	return err
}

func closeLogs(s *logx.Service) {
	if s != nil {
		_ = s.Close()
	}
}

// RunOnce runs a single pass over the task file and returns the process
// exit code: 0 when every dispatched task succeeded or was skipped, 1
// otherwise or when the pass could not start.
func (a *App) RunOnce(ctx context.Context) int {
	defs, err := a.tasks.Load()
	if err != nil {
		a.log.Error("task registry load failed", logx.String("path", a.tasks.Path()), logx.Err(err))
		return 1
	}
	return a.runPass(ctx, defs, "once")
}

func (a *App) runPass(ctx context.Context, defs []task.Definition, trigger string) int {
	sum, err := a.engine.RunEligible(ctx, defs)
	switch {
	case errors.Is(err, engine.ErrOverlapSkip):
		a.log.Info("pass skipped: previous pass still running", logx.String("trigger", trigger))
		return 0
	case err != nil:
		a.log.Error("pass failed to start", logx.String("trigger", trigger), logx.Err(err))
		return 1
	}
	a.notify(ctx, sum)

	code := sum.ExitCode()
	a.log.Info("pass done",
		logx.String("trigger", trigger),
		logx.String("run_id", sum.RunID),
		logx.Int("executed", len(sum.Executed)),
		logx.Int("failed", len(sum.Failed)),
		logx.Int("exit_code", code),
	)
	return code
}

// notify sends the summary, plus an alert when anything failed. Delivery
// errors are logged and never change the exit code.
func (a *App) notify(ctx context.Context, sum report.Summary) {
	if sum.DryRun {
		a.log.Info("dry run: notifications skipped")
		return
	}
	if !a.notif.Enabled() {
		a.log.Debug("no notification channels configured")
		return
	}
	// Shutdown must not drop the report of a pass that already ran.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := a.notif.NotifySummary(ctx, sum); err != nil {
		a.log.Error("summary delivery failed", logx.String("run_id", sum.RunID), logx.Err(err))
	}
	if len(sum.Failed) > 0 {
		if err := a.notif.NotifyAlert(ctx, sum); err != nil {
			a.log.Error("alert delivery failed", logx.String("run_id", sum.RunID), logx.Err(err))
		}
	}
}
