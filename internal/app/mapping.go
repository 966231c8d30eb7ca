package app

import (
	"errors"
	"strings"

	"contentagent/internal/config"
	"contentagent/internal/notifier"
	"contentagent/internal/storage"
	"contentagent/internal/task/engine"
	"contentagent/internal/task/retry"
)

// The map functions below assume cfg passed Validate.

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		MaxConcurrency: cfg.Engine.MaxConcurrency,
		Retry: retry.Policy{
			MaxRetries:     cfg.Engine.RetryCount,
			Backoff:        cfg.Backoff(),
			AttemptTimeout: cfg.TaskTimeout(),
		},
		DryRun:       cfg.DryRun,
		SummaryLimit: cfg.Engine.SummaryLimit,
	}
}

func storageConfig(cfg *config.Config) storage.Config {
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = "file"
	}
	return storage.Config{
		Driver:      driver,
		Path:        strings.TrimSpace(cfg.Storage.Path),
		BusyTimeout: cfg.BusyTimeout(),
	}
}

func notifierConfig(cfg *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec: cfg.Notifier.RatePerSec,
		Burst:      cfg.Notifier.Burst,
		RetryMax:   cfg.Notifier.RetryMax,
		RetryBase:  cfg.NotifyRetryBase(),
	}
}

// notifierChannels builds a channel for every block with credentials set.
func notifierChannels(cfg *config.Config) ([]notifier.Channel, error) {
	var out []notifier.Channel
	n := cfg.Notifier

	if strings.TrimSpace(n.Webhook.URL) != "" {
		wh, err := notifier.NewWebhook(notifier.WebhookOptions{
			URL:     n.Webhook.URL,
			Mention: n.Webhook.Mention,
			Timeout: cfg.WebhookTimeout(),
		})
		if err != nil {
			return nil, err
		}
		out = append(out, wh)
	}

	if strings.TrimSpace(n.Telegram.Token) != "" {
		if n.Telegram.ChatID == 0 {
			return nil, errors.New("notifier.telegram.chat_id is required when a token is set")
		}
		tg, err := notifier.NewTelegram(notifier.TelegramOptions{
			Token:    n.Telegram.Token,
			ChatID:   n.Telegram.ChatID,
			ThreadID: n.Telegram.ThreadID,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, tg)
	}
	return out, nil
}
