package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Options tell Load where to look.
type Options struct {
	// Path is the config file. Empty means defaults plus environment only.
	Path string
	// EnvFile is loaded when it exists. Defaults to ".env".
	EnvFile string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration from every source and validates it.
func Load(opts Options) (*Config, error) {
	cfg := Defaults()

	if p := strings.TrimSpace(opts.Path); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := DecodeStrict(p, b, &cfg); err != nil {
			return nil, fmt.Errorf("config %s: %w", p, err)
		}
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	dotenv, err := godotenv.Read(envFile)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", envFile, err)
	}

	// The process environment wins over .env.
	env := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := applyEnv(&cfg, env); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DecodeStrict decodes a JSON or YAML document into v, rejecting unknown
// fields and trailing data.
func DecodeStrict(path string, data []byte, v any) error {
	if IsYAML(path) {
		var err error
		if data, err = YAMLToJSON(data); err != nil {
			return err
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return fmt.Errorf("invalid config: trailing data")
		}
		return err
	}
	return nil
}

func applyEnv(cfg *Config, env func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := env(k); ok && strings.TrimSpace(v) != "" {
				*dst = strings.TrimSpace(v)
				return
			}
		}
	}
	integer := func(dst *int, key string) error {
		v, ok := env(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", key, v)
		}
		*dst = n
		return nil
	}
	boolean := func(dst *bool, key string) error {
		v, ok := env(key)
		if !ok || strings.TrimSpace(v) == "" {
			return nil
		}
		b, err := parseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str(&cfg.TasksFile, "TASKS_FILE")
	str(&cfg.Storage.Path, "STATE_FILE")
	str(&cfg.Storage.Driver, "STATE_DRIVER")
	str(&cfg.Engine.RetryBackoff, "RETRY_BACKOFF")
	str(&cfg.Engine.TaskTimeout, "TASK_TIMEOUT")
	str(&cfg.Logging.Level, "LOG_LEVEL")
	str(&cfg.Notifier.Webhook.URL, "FEISHU_WEBHOOK_URL", "WEBHOOK_URL")
	str(&cfg.Notifier.Webhook.Mention, "FEISHU_MENTION")
	str(&cfg.Notifier.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	str(&cfg.Daemon.Schedule, "DAEMON_SCHEDULE")

	persist := true
	for _, f := range []func() error{
		func() error { return integer(&cfg.Engine.MaxConcurrency, "MAX_CONCURRENCY") },
		func() error { return integer(&cfg.Engine.RetryCount, "RETRY_COUNT") },
		func() error { return boolean(&cfg.DryRun, "DRY_RUN") },
		func() error { return boolean(&cfg.Logging.JSON, "LOG_JSON") },
		func() error { return boolean(&persist, "PERSIST_STATE") },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	if !persist {
		cfg.Storage.Driver = "none"
	}

	if v, ok := env("TELEGRAM_CHAT_ID"); ok && strings.TrimSpace(v) != "" {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: invalid chat id %q", v)
		}
		cfg.Notifier.Telegram.ChatID = id
	}
	return nil
}

func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y":
		return true, nil
	case "0", "false", "no", "off", "n":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

// Validate checks ranges and that every duration and schedule parses.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.TasksFile) == "" {
		errs = append(errs, errors.New("tasks_file is required"))
	}
	if c.Engine.MaxConcurrency < 1 {
		errs = append(errs, fmt.Errorf("engine.max_concurrency must be >= 1, got %d", c.Engine.MaxConcurrency))
	}
	if c.Engine.RetryCount < 0 {
		errs = append(errs, fmt.Errorf("engine.retry_count must be >= 0, got %d", c.Engine.RetryCount))
	}
	if _, err := ParseBackoff("engine.retry_backoff", c.Engine.RetryBackoff); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("engine.task_timeout", c.Engine.TaskTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3", "none", "off":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("notifier.webhook.timeout", c.Notifier.Webhook.Timeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("notifier.retry_base", c.Notifier.RetryBase); err != nil {
		errs = append(errs, err)
	}
	if c.Notifier.RatePerSec < 0 || c.Notifier.Burst < 0 || c.Notifier.RetryMax < 0 {
		errs = append(errs, errors.New("notifier: rate_per_sec, burst and retry_max must be >= 0"))
	}
	if s := strings.TrimSpace(c.Daemon.Schedule); s != "" {
		p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
		if _, err := p.Parse(s); err != nil {
			errs = append(errs, fmt.Errorf("daemon.schedule: %w", err))
		}
	}
	return errors.Join(errs...)
}
