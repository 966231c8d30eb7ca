package storage

import (
	"context"
	"fmt"
	"strings"

	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "file", "json":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "none", "off":
		return nopStore{}, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

type nopStore struct{}

func (nopStore) Load(context.Context) (task.StateMap, error) { return task.StateMap{}, nil }
func (nopStore) Save(context.Context, task.StateMap) error { return ErrDisabled }
func (nopStore) AppendRun(context.Context, RunRecord) error { return ErrDisabled }
func (nopStore) Close() error { return nil }
