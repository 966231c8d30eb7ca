package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"contentagent/internal/task"
)

// HealthCheck requests params.url and fails on an unexpected status, excess
// latency or a missing keyword.
//
// Params: url (required), timeout_sec (10), expected_status (200),
// expected_keyword, max_latency_sec.
func HealthCheck(client *http.Client) task.Handler {
	return task.HandlerFunc(func(ctx context.Context, def task.Definition) (task.Result, error) {
		p := params(def.Params)
		url := strings.TrimSpace(p.str("url"))
		if url == "" {
			// Retrying cannot fix the task file.
			return task.Skipped("params.url is required"), nil
		}
		timeout := p.seconds("timeout_sec", 10*time.Second)
		wantStatus := int(p.float("expected_status", http.StatusOK))
		keyword := p.str("expected_keyword")
		maxLatency := p.seconds("max_latency_sec", 0)

		rctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		req, err := http.NewRequestWithContext(rctx, http.MethodGet, url, nil)
		if err != nil {
			return task.Skipped("invalid params.url: " + err.Error()), nil
		}

		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return task.Result{Status: task.StatusFailed, Summary: fmt.Sprintf("✗ %s timeout after %s", url, timeout), Error: "timeout"}, nil
			}
			return task.Result{Status: task.StatusFailed, Summary: fmt.Sprintf("✗ %s connection failed", url), Error: err.Error()}, nil
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		latency := time.Since(start)

		metrics := map[string]any{"status_code": resp.StatusCode, "latency_sec": latency.Seconds()}
		fail := func(summary, msg string) (task.Result, error) {
			return task.Result{Status: task.StatusFailed, Summary: summary, Error: msg, Metrics: metrics}, nil
		}

		if resp.StatusCode != wantStatus {
			return fail(fmt.Sprintf("✗ %s returned %d (expected %d)", url, resp.StatusCode, wantStatus), fmt.Sprintf("HTTP %d", resp.StatusCode))
		}
		if maxLatency > 0 && latency > maxLatency {
			return fail(fmt.Sprintf("✗ %s latency %.2fs exceeded max %.2fs", url, latency.Seconds(), maxLatency.Seconds()),
				fmt.Sprintf("latency %.2fs > %.2fs", latency.Seconds(), maxLatency.Seconds()))
		}
		if keyword != "" && !strings.Contains(string(body), keyword) {
			return fail(fmt.Sprintf("✗ %s missing keyword %q", url, keyword), "keyword not found")
		}
		return task.Success(fmt.Sprintf("✓ %s → %d (%.2fs)", url, resp.StatusCode, latency.Seconds())).WithMetrics(metrics), nil
	})
}
