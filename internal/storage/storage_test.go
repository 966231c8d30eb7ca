package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
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

func sampleState() task.StateMap {
	return task.StateMap{
		"rss_watch": {
			TaskID:            "rss_watch",
			Status:            task.StatusSuccess,
			LastRunAt:         "2025-06-02T12:00:00Z",
			NextRunAt:         "2025-06-02T13:00:00Z",
			LastResultSummary: "3 new items",
			Attempts:          4,
			LastAttemptAt:     "2025-06-02T12:00:00Z",
			RunID:             "4f1c2a7e-0000-4000-8000-000000000000",
		},
		"seo_audit": {
			TaskID:    "seo_audit",
			Status:    task.StatusFailed,
			LastError: "lighthouse timeout",
			Attempts:  1,
		},
		"new_task": task.NewState("new_task"),
	}
}

func openTestFile(t *testing.T) (*fileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "state.json")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st.(*fileStore), path
}

func TestFileRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, path := openTestFile(t)

	want := sampleState()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	var raw map[string]map[string]any
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Equal(t, "success", raw["rss_watch"]["status"])
	assert.Equal(t, "2025-06-02T12:00:00Z", raw["rss_watch"]["last_run_at"])
}

func TestFileMissingIsEmpty(t *testing.T) {
	s, _ := openTestFile(t)
	got, err := s.Load(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestFileMalformedWarnsAndIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"rss_watch": {"status": `), 0o600))

	st, err := Open(Config{Path: path}, logx.NewJSON(&buf, "debug"))
	require.NoError(t, err)

	got, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Contains(t, buf.String(), "malformed")
}

func TestFileSaveCrashBeforeRenameKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	s, path := openTestFile(t)

	old := sampleState()
	require.NoError(t, s.Save(ctx, old))

	crash := errors.New("killed")
	var sawTemp string
	s.beforeRename = func(tmp string) error {
		sawTemp = tmp
		_, err := os.Stat(tmp)
		require.NoError(t, err)
		return crash
	}

	next := task.StateMap{"only": task.NewState("only")}
	err := s.Save(ctx, next)
	require.ErrorIs(t, err, crash)

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, old, got)

	_, err = os.Stat(sawTemp)
	assert.True(t, os.IsNotExist(err), "temp file must be cleaned up")

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
}

func TestFileAppendRun(t *testing.T) {
	ctx := context.Background()
	s, path := openTestFile(t)

	started := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.AppendRun(ctx, RunRecord{RunID: "a", StartedAt: started, Executed: 2, AllSuccess: true}))
	require.NoError(t, s.AppendRun(ctx, RunRecord{RunID: "b", StartedAt: started.Add(time.Minute), Failed: 1}))

	f, err := os.Open(filepath.Join(filepath.Dir(path), "state.runs.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r RunRecord
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		ids = append(ids, r.RunID)
	}
	require.NoError(t, sc.Err())
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestSQLiteRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: time.Second}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()

	empty, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	want := sampleState()
	require.NoError(t, st.Save(ctx, want))
	got, err := st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Save replaces rather than merges.
	smaller := task.StateMap{"rss_watch": want["rss_watch"]}
	require.NoError(t, st.Save(ctx, smaller))
	got, err = st.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, smaller, got)

	require.NoError(t, st.AppendRun(ctx, RunRecord{RunID: "r1", Executed: 1, Tasks: []string{"heartbeat"}}))
	var n int
	require.NoError(t, st.(*sqliteStore).db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestOpenDrivers(t *testing.T) {
	t.Parallel()
	_, err := Open(Config{Driver: "etcd", Path: "x"}, logx.Nop())
	assert.Error(t, err)

	_, err = Open(Config{Driver: "file"}, logx.Nop())
	assert.Error(t, err)

	st, err := Open(Config{Driver: "none"}, logx.Nop())
	require.NoError(t, err)
	m, err := st.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m)
	assert.ErrorIs(t, st.Save(context.Background(), m), ErrDisabled)
}
