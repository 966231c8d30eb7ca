package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"contentagent/internal/app"
	"contentagent/internal/config"
	logx "contentagent/pkg/logx"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath string
		envFile string
		daemon  bool
		dryRun  bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config file (json or yaml); empty uses defaults and environment")
	flag.StringVar(&envFile, "env", ".env", "dotenv file, loaded when present")
	flag.BoolVar(&daemon, "daemon", false, "keep running and trigger passes on daemon.schedule")
	flag.BoolVar(&dryRun, "dry-run", false, "run handlers without saving state or sending notifications")
	flag.Parse()

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "main"))

	cfg, err := config.Load(config.Options{Path: cfgPath, EnvFile: envFile})
	if err != nil {
		bootLog.Error("config invalid", logx.Err(err))
		return 1
	}
	if dryRun {
		cfg.DryRun = true
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg)
	if err != nil {
		bootLog.Error("startup failed", logx.Err(err))
		return 1
	}
	defer a.Close()

	if !daemon {
		return a.RunOnce(ctx)
	}
	if err := a.RunDaemon(ctx); err != nil {
		bootLog.Error("daemon stopped with error", logx.Err(err))
		return 1
	}
	return 0
}
