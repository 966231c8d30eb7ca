// Package config builds the agent configuration once at startup.
//
// Sources, lowest to highest precedence:
//  1. built-in defaults (Defaults)
//  2. the config file, JSON or YAML, decoded strictly
//  3. a .env file
//  4. the process environment
package config

import (
	"bytes"
	"encoding/json"
	"time"

	logx "contentagent/pkg/logx"
)

type Config struct {
	// TasksFile is the task registry file (JSON array or YAML list).
	TasksFile string `json:"tasks_file"`
	// DryRun runs handlers without saving state or sending notifications.
	DryRun bool `json:"dry_run"`

	Engine   EngineConfig   `json:"engine"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Notifier NotifierConfig `json:"notifier"`
	Daemon   DaemonConfig   `json:"daemon"`
}

// EngineConfig controls dispatch and retries.
//
// Durations are Go duration strings (e.g. "500ms", "10s"). RetryBackoff is a
// comma-separated schedule: "1s,3s,7s", or bare seconds "1,3,7".
type EngineConfig struct {
	MaxConcurrency int    `json:"max_concurrency"`
	RetryCount     int    `json:"retry_count"`
	RetryBackoff   string `json:"retry_backoff"`
	// TaskTimeout bounds each handler attempt. "0s" disables it.
	TaskTimeout  string `json:"task_timeout,omitempty"`
	SummaryLimit int    `json:"summary_limit,omitempty"`
}

// StorageConfig selects the state store.
//
// Driver values: "file" (default), "sqlite", "none".
type StorageConfig struct {
	Driver string `json:"driver"`
	Path   string `json:"path"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Logx converts the logging block to logx.Config.
func (c LoggingConfig) Logx() logx.Config {
	return logx.Config{
		Level:   c.Level,
		Console: c.Console,
		JSON:    c.JSON,
		File:    logx.FileConfig{Enabled: c.File.Enabled, Path: c.File.Path},
	}
}

// NotifierConfig controls run report delivery.
//
// A channel is active when its credentials are set. RatePerSec/Burst limit
// sends across all channels; failed sends are retried RetryMax times with
// exponential backoff starting at RetryBase.
type NotifierConfig struct {
	Webhook  WebhookConfig  `json:"webhook"`
	Telegram TelegramConfig `json:"telegram"`

	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	RetryMax   int     `json:"retry_max,omitempty"`
	RetryBase  string  `json:"retry_base,omitempty"`
}

// WebhookConfig is a Feishu-compatible incoming webhook.
type WebhookConfig struct {
	URL string `json:"url"`
	// Mention is prepended to alert messages (e.g. an @user tag).
	Mention string `json:"mention,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

type TelegramConfig struct {
	Token    string `json:"token"`
	ChatID   int64  `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
}

// DaemonConfig controls the long-running mode.
type DaemonConfig struct {
	// Schedule is a robfig/cron expression; descriptors like "@every 1m" work.
	Schedule string `json:"schedule"`
	// WatchTasks triggers an extra pass when the task file changes.
	WatchTasks bool `json:"watch_tasks"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		TasksFile: "tasks.json",
		Engine: EngineConfig{
			MaxConcurrency: 5,
			RetryCount:     2,
			RetryBackoff:   "1s,3s,7s",
			SummaryLimit:   500,
		},
		Storage: StorageConfig{Driver: "file", Path: "state.json"},
		Logging: LoggingConfig{Level: "info", Console: true},
		Notifier: NotifierConfig{
			Webhook:    WebhookConfig{Timeout: "20s"},
			RatePerSec: 1,
			Burst:      2,
			RetryMax:   3,
			RetryBase:  "500ms",
		},
		Daemon: DaemonConfig{Schedule: "@every 1m", WatchTasks: true},
	}
}

// Engine settings in typed form. Call Validate first; these ignore errors.

func (c *Config) Backoff() []time.Duration {
	d, _ := ParseBackoff("engine.retry_backoff", c.Engine.RetryBackoff)
	return d
}

func (c *Config) TaskTimeout() time.Duration {
	d, _ := ParseDurationField("engine.task_timeout", c.Engine.TaskTimeout)
	return d
}

func (c *Config) BusyTimeout() time.Duration {
	d, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return d
}

func (c *Config) WebhookTimeout() time.Duration {
	d, _ := ParseDurationOrDefault("notifier.webhook.timeout", c.Notifier.Webhook.Timeout, 20*time.Second)
	return d
}

func (c *Config) NotifyRetryBase() time.Duration {
	d, _ := ParseDurationOrDefault("notifier.retry_base", c.Notifier.RetryBase, 500*time.Millisecond)
	return d
}

// Redacted returns c as JSON with secrets masked, for startup logging.
func (c Config) Redacted() string {
	if c.Notifier.Telegram.Token != "" {
		c.Notifier.Telegram.Token = "***"
	}
	if c.Notifier.Webhook.URL != "" {
		c.Notifier.Webhook.URL = "***"
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(c)
	return string(bytes.TrimSpace(buf.Bytes()))
}
