package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

// fileStore keeps state in a single JSON document.
//
// Files:
//   - <path>                  (state snapshot, replaced via temp file + rename)
//   - <prefix>.runs.jsonl     (append-only run history)
type fileStore struct {
	log logx.Logger

	mu       sync.Mutex
	path     string
	runsPath string

	// beforeRename runs after the temp file is durable and before it replaces
	// the target. Tests use it to simulate a crash mid-save.
	beforeRename func(tmp string) error
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	return &fileStore{
		log:      log,
		path:     path,
		runsPath: prefix + ".runs.jsonl",
	}, nil
}

func (s *fileStore) Close() error { return nil }

func (s *fileStore) Load(ctx context.Context) (task.StateMap, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return task.StateMap{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return task.StateMap{}, nil
	}

	var m task.StateMap
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("state file is malformed, starting from empty state", logx.String("path", s.path), logx.Err(err))
		return task.StateMap{}, nil
	}
	if m == nil {
		m = task.StateMap{}
	}
	for id, st := range m {
		if st.TaskID == "" {
			st.TaskID = id
			m[id] = st
		}
	}
	return m, nil
}

// Save writes m to a temp file in the target directory, fsyncs it and renames
// it over the target. The temp file is removed on any failure.
func (s *fileStore) Save(ctx context.Context, m task.StateMap) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil {
		m = task.StateMap{}
	}
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	b = append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.CreateTemp(filepath.Dir(s.path), "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state: %w", err)
	}
	tmp := f.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmp)
		}
	}()

	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync temp state: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close temp state: %w", err)
	}
	if s.beforeRename != nil {
		if err := s.beforeRename(tmp); err != nil {
			return err
		}
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	committed = true
	return nil
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
