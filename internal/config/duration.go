package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// ParseBackoff parses a comma-separated backoff schedule. Each element is a
// Go duration ("1s", "500ms") or a bare number of seconds ("1", "0.5").
// An empty string yields an empty schedule.
func ParseBackoff(path, raw string) ([]time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]time.Duration, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			return nil, fmt.Errorf("%s: empty element at position %d", path, i+1)
		}
		if secs, err := strconv.ParseFloat(p, 64); err == nil {
			if secs < 0 {
				return nil, fmt.Errorf("%s: backoff must be >= 0", path)
			}
			out = append(out, time.Duration(secs*float64(time.Second)))
			continue
		}
		d, err := ParseDurationField(path, p)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}
