// Package notifier delivers run reports to operators.
//
// Each configured channel (an incoming webhook, a Telegram chat) receives the
// rendered run summary, and an alert when a task failed. Sends are
// rate-limited across channels and retried with exponential backoff. A
// delivery failure is returned to the caller, which logs it; it never affects
// the outcome of the run.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"contentagent/internal/clock"
	"contentagent/internal/report"
	logx "contentagent/pkg/logx"
)

var ErrNoChannels = errors.New("notifier has no channels")

// Message is one outbound notification.
type Message struct {
	Text  string
	Alert bool
}

// Channel is a delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, m Message) error
}

type Config struct {
	// RatePerSec limits sends across all channels. 0 means unlimited.
	RatePerSec float64
	Burst      int

	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Service implements report.Notifier over a set of channels.
type Service struct {
	log      logx.Logger
	cfg      Config
	channels []Channel
	limiter  *rate.Limiter
	sleep    func(ctx context.Context, d time.Duration) error
}

var _ report.Notifier = (*Service)(nil)

func New(cfg Config, log logx.Logger, channels ...Channel) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	var active []Channel
	for _, ch := range channels {
		if ch != nil {
			active = append(active, ch)
		}
	}
	return &Service{
		log:      log.With(logx.String("comp", "notifier")),
		cfg:      cfg,
		channels: active,
		limiter:  rate.NewLimiter(limit, burst),
		sleep:    clock.Sleep,
	}
}

func (s *Service) Enabled() bool { return len(s.channels) > 0 }

// Channels returns the names of the active channels.
func (s *Service) Channels() []string {
	out := make([]string, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.Name())
	}
	return out
}

// NotifySummary sends the run card to every channel.
func (s *Service) NotifySummary(ctx context.Context, sum report.Summary) error {
	return s.deliver(ctx, Message{Text: report.Render(sum)})
}

// NotifyAlert sends the failure alert. It is a no-op when nothing failed.
func (s *Service) NotifyAlert(ctx context.Context, sum report.Summary) error {
	text := report.RenderAlert(sum)
	if text == "" {
		return nil
	}
	return s.deliver(ctx, Message{Text: text, Alert: true})
}

func (s *Service) deliver(ctx context.Context, m Message) error {
	if len(s.channels) == 0 {
		return ErrNoChannels
	}
	var errs []error
	for _, ch := range s.channels {
		if err := s.sendOne(ctx, ch, m); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) sendOne(ctx context.Context, ch Channel, m Message) error {
	var last error
	for i := 0; i <= s.cfg.RetryMax; i++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		err := ch.Send(ctx, m)
		if err == nil {
			s.log.Debug("notification sent", logx.String("channel", ch.Name()), logx.Bool("alert", m.Alert), logx.Int("attempt", i+1))
			return nil
		}
		last = err
		if i == s.cfg.RetryMax {
			break
		}
		delay := s.backoff(i)
		s.log.Debug("notification retry scheduled", logx.String("channel", ch.Name()), logx.Int("attempt", i+2), logx.Duration("delay", delay), logx.Err(err))
		if err := s.sleep(ctx, delay); err != nil {
			return err
		}
	}
	s.log.Warn("notification failed", logx.String("channel", ch.Name()), logx.Bool("alert", m.Alert), logx.Err(last))
	return last
}

// backoff returns RetryBase * 2^i, capped at RetryMaxDelay.
func (s *Service) backoff(i int) time.Duration {
	d := s.cfg.RetryBase
	for ; i > 0 && d < s.cfg.RetryMaxDelay; i-- {
		d *= 2
	}
	return min(d, s.cfg.RetryMaxDelay)
}
