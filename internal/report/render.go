package report

import (
	"fmt"
	"strings"

	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

const (
	maxListedSuccess = 5
	maxListedSkipped = 3
	maxListedFailed  = 5
)

// Render formats s as the plain-text run card.
func Render(s Summary) string {
	var b strings.Builder

	success := s.ByStatus(task.StatusSuccess)
	skipped := s.ByStatus(task.StatusSkipped)
	failed := s.ByStatus(task.StatusFailed)

	if s.AllSuccess {
		b.WriteString("✅ Agent run results\n")
		b.WriteString("Status: all pass\n")
	} else {
		b.WriteString("⚠️ Agent run results\n")
		b.WriteString("Status: some issues\n")
	}
	fmt.Fprintf(&b, "Results: %d ✓ · %d ⊘ · %d ✗\n", len(success), len(skipped), len(failed))
	fmt.Fprintf(&b, "Duration: %.2fs\n", s.DurationSec)
	fmt.Fprintf(&b, "Run ID: %s\n", s.RunID)
	if s.DryRun {
		b.WriteString("Mode: dry run (state not saved)\n")
	} else if !s.StateSaved {
		fmt.Fprintf(&b, "State: NOT saved (%s)\n", orDefault(s.StateError, "unknown error"))
	}

	if len(success) > 0 {
		fmt.Fprintf(&b, "\n✅ Successful tasks (%d)\n", len(success))
		for _, o := range head(success, maxListedSuccess) {
			fmt.Fprintf(&b, "- %s (%.2fs): %s\n", o.Title, o.DurationSec, logx.Truncate(orDefault(o.Summary, "no summary"), 60))
		}
		more(&b, len(success), maxListedSuccess)
	}
	if len(skipped) > 0 {
		fmt.Fprintf(&b, "\n⊘ Skipped tasks (%d)\n", len(skipped))
		for _, o := range head(skipped, maxListedSkipped) {
			fmt.Fprintf(&b, "- %s: %s\n", o.Title, logx.Truncate(orDefault(o.Summary, "no reason"), 80))
		}
		more(&b, len(skipped), maxListedSkipped)
	}
	if len(failed) > 0 {
		fmt.Fprintf(&b, "\n❌ Failed tasks (%d)\n", len(failed))
		for _, o := range head(failed, maxListedFailed) {
			fmt.Fprintf(&b, "- %s: %s\n", o.Title, logx.Truncate(orDefault(o.Error, "unknown error"), 80))
		}
		more(&b, len(failed), maxListedFailed)
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderAlert formats the failed tasks of s. It returns "" when nothing failed.
func RenderAlert(s Summary) string {
	failed := s.ByStatus(task.StatusFailed)
	if len(failed) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "❌ %d task(s) failed in run %s\n", len(failed), s.RunID)
	for _, o := range failed {
		fmt.Fprintf(&b, "\nTask: %s (%s)\nAttempts: %d\nError: %s\n", o.Title, o.ID, o.Attempts, logx.Truncate(orDefault(o.Error, "unknown error"), 500))
	}
	return strings.TrimRight(b.String(), "\n")
}

func head(in []task.Outcome, n int) []task.Outcome {
	if len(in) > n {
		return in[:n]
	}
	return in
}

func more(b *strings.Builder, total, shown int) {
	if total > shown {
		fmt.Fprintf(b, "... and %d more\n", total-shown)
	}
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
