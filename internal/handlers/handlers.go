// Package handlers holds the task handlers built into the agent. Content
// tasks (LLM drafting, search, publishing) register their own handlers next
// to these.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"contentagent/internal/clock"
	"contentagent/internal/task"
)

// Deps are shared by the built-in handlers.
type Deps struct {
	Clock  clock.Clock
	Client *http.Client
}

// Register adds the built-in handlers to reg.
func Register(reg *task.Registry, d Deps) error {
	if d.Clock == nil {
		d.Clock = clock.System()
	}
	if d.Client == nil {
		d.Client = &http.Client{}
	}
	for id, h := range map[string]task.Handler{
		task.HeartbeatID:   Heartbeat(d.Clock),
		"daily_briefing":   DailyBriefing(d.Clock),
		"health_check_url": HealthCheck(d.Client),
	} {
		if err := reg.Register(id, h); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
	}
	return nil
}

// params is a typed view over Definition.Params. JSON numbers arrive as
// float64; YAML-sourced files go through JSON first so the same holds.
type params map[string]any

func (p params) str(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func (p params) float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func (p params) seconds(key string, def time.Duration) time.Duration {
	s := p.float(key, -1)
	if s < 0 {
		return def
	}
	return time.Duration(s * float64(time.Second))
}
