// Package storage persists per-task state between agent runs.
//
// Two drivers are available:
//   - "file": a single JSON document replaced atomically on every save,
//     plus an append-only run history next to it
//   - "sqlite": a SQLite database (modernc.org/sqlite, no cgo)
//
// The orchestrator loads the whole map once per run and saves it once after
// all tasks finished, so neither driver needs cross-process locking.
package storage
