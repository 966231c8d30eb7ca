package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentagent/internal/clock"
	"contentagent/internal/task"
)

var fixed = time.Date(2026, 3, 9, 7, 5, 0, 0, time.UTC)

func TestHeartbeat(t *testing.T) {
	t.Parallel()
	res, err := Heartbeat(clock.NewFake(fixed)).Execute(context.Background(), task.Heartbeat())
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, res.Status)
	assert.Equal(t, "Heartbeat at "+clock.FormatISO(fixed), res.Summary)
	assert.Equal(t, clock.FormatISO(fixed), res.Metrics["timestamp_utc"])
}

func TestDailyBriefing(t *testing.T) {
	t.Parallel()
	res, err := DailyBriefing(clock.NewFake(fixed)).Execute(context.Background(), task.Definition{ID: "daily_briefing"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, res.Status)
	assert.Contains(t, res.Summary, "Daily briefing for 2026-03-09")
	assert.Contains(t, res.Summary, "Generated at 07:05 UTC")
	assert.Equal(t, map[string]any{"type": "briefing", "date": "2026-03-09"}, res.Metrics)
}

func TestRegister(t *testing.T) {
	t.Parallel()
	reg := task.NewRegistry()
	require.NoError(t, Register(reg, Deps{}))
	assert.ElementsMatch(t, []string{"daily_briefing", "health_check_url", "heartbeat"}, reg.IDs())

	// Ids are unique per registry.
	assert.Error(t, Register(reg, Deps{}))
}

func checkDef(url string, extra map[string]any) task.Definition {
	p := map[string]any{"url": url}
	for k, v := range extra {
		p[k] = v
	}
	return task.Definition{ID: "health_check_url", Params: p}
}

func TestHealthCheck(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok":
			_, _ = w.Write([]byte("status: healthy"))
		case "/slow":
			time.Sleep(150 * time.Millisecond)
			_, _ = w.Write([]byte("late"))
		default:
			http.Error(w, "nope", http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()
	h := HealthCheck(srv.Client())
	ctx := context.Background()

	res, err := h.Execute(ctx, checkDef(srv.URL+"/ok", map[string]any{"expected_keyword": "healthy"}))
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, res.Status)
	assert.Equal(t, http.StatusOK, res.Metrics["status_code"])

	res, err = h.Execute(ctx, checkDef(srv.URL+"/ok", map[string]any{"expected_keyword": "degraded"}))
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, "keyword not found", res.Error)

	res, err = h.Execute(ctx, checkDef(srv.URL+"/down", nil))
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, "HTTP 503", res.Error)

	res, err = h.Execute(ctx, checkDef(srv.URL+"/down", map[string]any{"expected_status": float64(503)}))
	require.NoError(t, err)
	assert.Equal(t, task.StatusSuccess, res.Status)

	res, err = h.Execute(ctx, checkDef(srv.URL+"/slow", map[string]any{"max_latency_sec": 0.05}))
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "latency")

	res, err = h.Execute(ctx, checkDef(srv.URL+"/slow", map[string]any{"timeout_sec": 0.05}))
	require.NoError(t, err)
	assert.Equal(t, task.StatusFailed, res.Status)
	assert.Equal(t, "timeout", res.Error)
}

func TestHealthCheckWithoutURLIsSkipped(t *testing.T) {
	t.Parallel()
	res, err := HealthCheck(http.DefaultClient).Execute(context.Background(), task.Definition{ID: "uptime"})
	require.NoError(t, err)
	assert.Equal(t, task.StatusSkipped, res.Status)
	assert.Equal(t, "params.url is required", res.Summary)
}
