package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (task.StateMap, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT task_id, status, last_run_at, next_run_at, last_result_summary,
		last_error, attempts, last_attempt_at, run_id FROM task_state`)
	if err != nil {
		return nil, fmt.Errorf("query state: %w", err)
	}
	defer rows.Close()

	out := task.StateMap{}
	for rows.Next() {
		var (
			st                                          task.State
			status                                      string
			lastRun, nextRun, summary, lastErr, lastAtt sql.NullString
			runID                                       sql.NullString
		)
		if err := rows.Scan(&st.TaskID, &status, &lastRun, &nextRun, &summary, &lastErr, &st.Attempts, &lastAtt, &runID); err != nil {
			return nil, fmt.Errorf("scan state: %w", err)
		}
		st.Status = task.Status(status)
		st.LastRunAt = lastRun.String
		st.NextRunAt = nextRun.String
		st.LastResultSummary = summary.String
		st.LastError = lastErr.String
		st.LastAttemptAt = lastAtt.String
		st.RunID = runID.String
		out[st.TaskID] = st
	}
	return out, rows.Err()
}

// Save replaces the table contents in one transaction.
func (s *sqliteStore) Save(ctx context.Context, m task.StateMap) (err error) {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM task_state`); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO task_state(task_id, status, last_run_at, next_run_at,
		last_result_summary, last_error, attempts, last_attempt_at, run_id) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for id, st := range m {
		if st.TaskID == "" {
			st.TaskID = id
		}
		if _, err = stmt.ExecContext(ctx, st.TaskID, string(st.Status), nullStr(st.LastRunAt), nullStr(st.NextRunAt),
			nullStr(st.LastResultSummary), nullStr(st.LastError), st.Attempts, nullStr(st.LastAttemptAt), nullStr(st.RunID)); err != nil {
			return fmt.Errorf("insert state %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) AppendRun(ctx context.Context, r RunRecord) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(run_id, started_at, duration_sec, executed, failed, all_success, tasks)
		 VALUES(?,?,?,?,?,?,?)`,
		r.RunID, r.StartedAt.UTC().Format(time.RFC3339Nano), r.DurationSec, r.Executed, r.Failed, r.AllSuccess,
		nullStr(strings.Join(r.Tasks, ",")),
	)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
