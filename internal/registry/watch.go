package registry

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

const (
	defaultDebounce    = 250 * time.Millisecond
	restartBackoffBase = 250 * time.Millisecond
	restartBackoffMax  = 5 * time.Second
)

// Manager holds the current task snapshot and reloads it when the task file
// changes on disk.
type Manager struct {
	path     string
	log      logx.Logger
	debounce time.Duration

	mu       sync.RWMutex
	defs     []task.Definition
	lastHash uint64

	subsMu sync.Mutex
	subs   []chan []task.Definition
}

func NewManager(path string, log logx.Logger) *Manager {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Manager{path: path, log: log, debounce: defaultDebounce}
}

func (m *Manager) Path() string { return m.path }

// Load reads the task file and commits it as the current snapshot.
func (m *Manager) Load() ([]task.Definition, error) {
	defs, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	m.commit(defs)
	return clone(defs), nil
}

// Get returns a copy of the current snapshot.
func (m *Manager) Get() []task.Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.defs)
}

func (m *Manager) commit(defs []task.Definition) {
	m.mu.Lock()
	m.defs = clone(defs)
	m.lastHash = hashDefs(defs)
	m.mu.Unlock()
}

// Subscribe returns a channel receiving every committed reload. Slow
// subscribers only ever see the newest snapshot.
func (m *Manager) Subscribe(buffer int) chan []task.Definition {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan []task.Definition, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan []task.Definition) {
	if ch == nil {
		return
	}
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			last := len(m.subs) - 1
			m.subs[i] = m.subs[last]
			m.subs[last] = nil
			m.subs = m.subs[:last]
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(defs []task.Definition) {
	// Hold subsMu while sending to avoid send-on-closed panics.
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- clone(defs):
			continue
		default:
		}
		// Full: drop the oldest, then deliver the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- clone(defs):
		default:
			m.log.Debug("task reload dropped (subscriber slow)", logx.Int("queue_cap", cap(ch)))
		}
	}
}

// reload re-reads the file and publishes it when its content changed. A file
// that fails to parse or validate leaves the current snapshot in place.
func (m *Manager) reload() {
	defs, err := Load(m.path)
	if err != nil {
		m.log.Warn("task file reload failed; keeping previous tasks", logx.String("path", m.path), logx.Err(err))
		return
	}
	h := hashDefs(defs)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	prev := m.defs
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("task file unchanged; skipping publish", logx.String("path", m.path))
		return
	}

	change := Diff(prev, defs)
	m.commit(defs)
	m.publish(defs)
	m.log.Info("task file reloaded", append(change.Fields(), logx.Int("tasks", len(defs)))...)
}

// Watch reloads the snapshot on file changes until ctx is done. Bursts of
// editor events are debounced into one reload.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	file := filepath.Base(m.path)
	backoff := restartBackoffBase

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(m.debounce, func() {
			if ctx.Err() != nil {
				return
			}
			m.reload()
		})
	}
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()

	wait := func() bool {
		d := backoff
		if backoff < restartBackoffMax {
			backoff = min(backoff*2, restartBackoffMax)
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(d):
			return true
		}
	}

	for {
		if ctx.Err() != nil {
			return nil
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			m.log.Warn("task file watch init failed", logx.Err(err), logx.String("dir", dir))
			if !wait() {
				return nil
			}
			continue
		}
		// Watch the directory: editors often replace the file instead of writing it.
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			m.log.Warn("task file watch add failed", logx.Err(err), logx.String("dir", dir))
			if !wait() {
				return nil
			}
			continue
		}
		backoff = restartBackoffBase
		m.log.Debug("task file watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return nil
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if strings.EqualFold(filepath.Base(ev.Name), file) &&
					ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					m.log.Warn("task file watch overflow; forcing reload", logx.Err(err))
					debounce()
					continue
				}
				m.log.Warn("task file watch error", logx.Err(err), logx.String("dir", dir))
			}
		}

		_ = w.Close()
		m.log.Warn("task file watcher stopped; restarting", logx.String("dir", dir), logx.Duration("backoff", backoff))
		if !wait() {
			return nil
		}
	}
}

func clone(defs []task.Definition) []task.Definition {
	if defs == nil {
		return nil
	}
	out := make([]task.Definition, len(defs))
	copy(out, defs)
	return out
}

func hashDefs(defs []task.Definition) uint64 {
	b, err := json.Marshal(defs)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
