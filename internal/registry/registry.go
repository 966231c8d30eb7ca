// Package registry loads task definitions from the task file.
//
// The file is a JSON array of definitions, or a YAML list when its extension
// is .yaml/.yml. An object with a "tasks" array is accepted too. Unknown
// fields inside a definition are ignored so task files can carry notes for
// other tools.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"contentagent/internal/config"
	"contentagent/internal/task"
)

var (
	ErrEmptyID     = errors.New("task id is empty")
	ErrDuplicateID = errors.New("duplicate task id")
)

// Load reads and validates the task file at path.
func Load(path string) ([]task.Definition, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Parse(path, b)
}

// Parse decodes and validates a task file. path only selects the format.
func Parse(path string, data []byte) ([]task.Definition, error) {
	var err error
	jb, format := data, "json"
	if config.IsYAML(path) {
		if jb, err = config.YAMLToJSON(data); err != nil {
			return nil, fmt.Errorf("parse task file: %w", err)
		}
		format = "yaml"
	}
	jb = bytes.TrimSpace(jb)
	if len(jb) == 0 || bytes.Equal(jb, []byte("null")) {
		return []task.Definition{}, nil
	}

	var defs []task.Definition
	if jb[0] == '{' {
		var wrapped struct {
			Tasks []task.Definition `json:"tasks"`
		}
		err = json.Unmarshal(jb, &wrapped)
		defs = wrapped.Tasks
	} else {
		err = json.Unmarshal(jb, &defs)
	}
	if err != nil {
		return nil, fmt.Errorf("parse task file (%s): %w", format, err)
	}
	if defs == nil {
		defs = []task.Definition{}
	}
	if err := Validate(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

// Validate checks that every id is non-empty and unique.
func Validate(defs []task.Definition) error {
	seen := make(map[string]int, len(defs))
	for i, d := range defs {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			return fmt.Errorf("task #%d: %w", i+1, ErrEmptyID)
		}
		if j, ok := seen[id]; ok {
			return fmt.Errorf("task %q (#%d and #%d): %w", id, j+1, i+1, ErrDuplicateID)
		}
		seen[id] = i
	}
	return nil
}
