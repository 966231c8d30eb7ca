package task

import (
	"errors"
	"fmt"
)

var ErrUnknownTask = errors.New("no handler registered for task id")

// ConfigError marks a problem with a task's configuration. It fails that
// task only. The engine returns it for unknown ids without calling a handler.
type ConfigError struct {
	TaskID string
	Err    error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("task %q: configuration error: %v", e.TaskID, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// IsConfigError reports whether err carries a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
