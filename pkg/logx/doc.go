// Package logx configures contentagent's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - JSON output for log collectors (cron hosts, CI runners)
//   - An optional append-only JSON log file next to the state file
package logx
