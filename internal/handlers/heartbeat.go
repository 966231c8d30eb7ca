package handlers

import (
	"context"
	"fmt"

	"contentagent/internal/clock"
	"contentagent/internal/task"
)

// Heartbeat always succeeds; its state record shows the agent is alive.
func Heartbeat(c clock.Clock) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, def task.Definition) (task.Result, error) {
		now := clock.FormatISO(c.Now())
		return task.Success("Heartbeat at " + now).WithMetrics(map[string]any{"timestamp_utc": now}), nil
	})
}

// DailyBriefing emits a short status note for the day.
func DailyBriefing(c clock.Clock) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, def task.Definition) (task.Result, error) {
		now := c.Now().UTC()
		date := now.Format("2006-01-02")
		text := fmt.Sprintf("Daily briefing for %s\nGenerated at %s\nStatus: agent is running.",
			date, now.Format("15:04 UTC"))
		return task.Success(text).WithMetrics(map[string]any{"type": "briefing", "date": date}), nil
	})
}
