package report

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentagent/internal/task"
)

var started = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func def(id string) task.Definition {
	return task.Definition{ID: id, Title: strings.ToUpper(id), Enabled: true, Frequency: task.Daily}
}

func TestCollectorCountsUnderConcurrency(t *testing.T) {
	c := NewCollector("run-1", started)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("t%02d", i)
			switch {
			case i == 0:
				c.Add(def(id), task.Failed("boom"))
			case i%3 == 0:
				c.Add(def(id), task.Skipped("no api key"))
			default:
				c.Add(def(id), task.Success("ok"))
			}
		}(i)
	}
	wg.Wait()

	s := c.Summary(started.Add(1500 * time.Millisecond))
	assert.Equal(t, "run-1", s.RunID)
	assert.Len(t, s.Tasks, 10)
	assert.Len(t, s.Executed, 9)
	require.Len(t, s.Failed, 1)
	assert.Equal(t, "t00", s.Failed[0].ID)
	for _, o := range s.Executed {
		assert.NotEqual(t, task.StatusFailed, o.Status)
	}
	assert.False(t, s.AllSuccess)
	assert.Equal(t, 1, s.ExitCode())
	assert.InDelta(t, 1.5, s.DurationSec, 1e-9)
}

func TestEmptyRunIsSuccess(t *testing.T) {
	t.Parallel()
	s := NewCollector("r", started).Summary(started)
	assert.True(t, s.AllSuccess)
	assert.Equal(t, 0, s.ExitCode())
	assert.Empty(t, RenderAlert(s))
}

func TestRender(t *testing.T) {
	t.Parallel()
	c := NewCollector("run-42", started)
	for i := 0; i < 7; i++ {
		c.Add(def(fmt.Sprintf("ok%d", i)), task.Success("generated draft"))
	}
	c.Add(def("seo"), task.Skipped("SERPER_API_KEY not set"))
	c.Add(def("rss"), task.Failed(strings.Repeat("x", 200)))
	s := c.Summary(started.Add(2 * time.Second))
	s.StateSaved = true

	out := Render(s)
	assert.Contains(t, out, "Results: 7 ✓ · 1 ⊘ · 1 ✗")
	assert.Contains(t, out, "Run ID: run-42")
	assert.Contains(t, out, "... and 2 more")
	assert.Contains(t, out, "SERPER_API_KEY not set")
	assert.Contains(t, out, strings.Repeat("x", 77)+"...")
	assert.NotContains(t, out, "State: NOT saved")

	s.StateSaved = false
	s.StateError = "disk full"
	assert.Contains(t, Render(s), "State: NOT saved (disk full)")
}

func TestRenderAlert(t *testing.T) {
	t.Parallel()
	c := NewCollector("run-7", started)
	c.Add(def("heartbeat"), task.Success("alive"))
	r := task.Failed("lighthouse timeout")
	r.Attempts = 3
	c.Add(def("seo_audit"), r)

	out := RenderAlert(c.Summary(started))
	require.NotEmpty(t, out)
	assert.Contains(t, out, "1 task(s) failed in run run-7")
	assert.Contains(t, out, "SEO_AUDIT (seo_audit)")
	assert.Contains(t, out, "Attempts: 3")
	assert.Contains(t, out, "lighthouse timeout")
	assert.NotContains(t, out, "HEARTBEAT")
}
