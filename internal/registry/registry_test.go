package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

func TestParseJSON(t *testing.T) {
	t.Parallel()
	defs, err := Parse("tasks.json", []byte(`[
		{"id": "rss_watch", "title": "RSS watch", "frequency": "hourly", "params": {"feeds": ["a", "b"]}},
		{"id": "seo_audit", "enabled": false, "owner": "marketing"}
	]`))
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, task.Hourly, defs[0].Frequency)
	assert.Equal(t, []any{"a", "b"}, defs[0].Params["feeds"])
	assert.False(t, defs[1].Enabled)
	assert.Equal(t, task.Daily, defs[1].Frequency)
}

func TestParseYAMLAndWrapped(t *testing.T) {
	t.Parallel()
	yml := `
tasks:
  - id: daily_briefing
    title: Daily briefing
    frequency: "cron:0 8 * * 1-5"
    params:
      topics: [ai, marketing]
  - id: heartbeat
    frequency: every_minute
`
	defs, err := Parse("tasks.yaml", []byte(yml))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, task.Frequency("cron:0 8 * * 1-5"), defs[0].Frequency)
	assert.True(t, defs[0].Enabled)
	assert.Equal(t, []any{"ai", "marketing"}, defs[0].Params["topics"])

	list, err := Parse("tasks.yml", []byte("- id: a\n- id: b\n"))
	require.NoError(t, err)
	assert.Len(t, list, 2)

	empty, err := Parse("tasks.json", []byte("  "))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestValidation(t *testing.T) {
	t.Parallel()
	_, err := Parse("tasks.json", []byte(`[{"id":"a"},{"id":"  "}]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyID))
	assert.Contains(t, err.Error(), "#2")

	_, err = Parse("tasks.json", []byte(`[{"id":"a"},{"id":"b"},{"id":"a"}]`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Contains(t, err.Error(), `"a"`)

	_, err = Parse("tasks.json", []byte(`[{"id":`))
	assert.Error(t, err)

	_, err = Parse("tasks.yaml", []byte("- id: [unclosed"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "tasks.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestDiff(t *testing.T) {
	t.Parallel()
	before := []task.Definition{
		{ID: "a", Enabled: true, Frequency: task.Daily},
		{ID: "b", Enabled: true, Frequency: task.Hourly},
		{ID: "c", Enabled: true, Frequency: task.Weekly, Params: map[string]any{"k": "v"}},
	}
	after := []task.Definition{
		{ID: "a", Enabled: true, Frequency: "DAILY"},
		{ID: "c", Enabled: true, Frequency: task.Weekly, Params: map[string]any{"k": "w"}},
		{ID: "d", Enabled: true, Frequency: task.Daily},
	}
	c := Diff(before, after)
	assert.Equal(t, []string{"d"}, c.Added)
	assert.Equal(t, []string{"b"}, c.Removed)
	assert.Equal(t, []string{"c"}, c.Changed)
	assert.False(t, c.Empty())
	assert.True(t, Diff(before, before).Empty())
}

func TestManagerReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a"}]`), 0o600))

	m := NewManager(path, logx.Nop())
	defs, err := m.Load()
	require.NoError(t, err)
	require.Len(t, defs, 1)

	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	// Unchanged content publishes nothing.
	m.reload()
	assert.Len(t, ch, 0)

	// A broken file keeps the previous snapshot.
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a"},{"id":"a"}]`), 0o600))
	m.reload()
	assert.Len(t, ch, 0)
	assert.Len(t, m.Get(), 1)

	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a"},{"id":"b"}]`), 0o600))
	m.reload()
	got := <-ch
	assert.Len(t, got, 2)
	assert.Len(t, m.Get(), 2)
}

func TestManagerWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id":"a"}]`), 0o600))

	m := NewManager(path, logx.Nop())
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx) }()

	// Keep rewriting until the watcher is up and sees a change.
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte(`[{"id":"a"},{"id":"z"}]`), 0o600)
		select {
		case defs := <-ch:
			return len(defs) == 2
		default:
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
