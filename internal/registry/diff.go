package registry

import (
	"reflect"
	"sort"

	"contentagent/internal/task"
	logx "contentagent/pkg/logx"
)

// Change summarizes the difference between two task snapshots.
type Change struct {
	Added   []string
	Removed []string
	Changed []string
}

func (c Change) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Changed) == 0
}

// Fields returns log attributes for c. Params are never logged; they may hold
// credentials.
func (c Change) Fields() []logx.Field {
	return []logx.Field{
		logx.Strs("added", c.Added),
		logx.Strs("removed", c.Removed),
		logx.Strs("changed", c.Changed),
	}
}

// Diff compares two snapshots by task id.
func Diff(oldDefs, newDefs []task.Definition) Change {
	before := index(oldDefs)
	after := index(newDefs)

	var c Change
	for id, nd := range after {
		od, ok := before[id]
		switch {
		case !ok:
			c.Added = append(c.Added, id)
		case !sameDefinition(od, nd):
			c.Changed = append(c.Changed, id)
		}
	}
	for id := range before {
		if _, ok := after[id]; !ok {
			c.Removed = append(c.Removed, id)
		}
	}
	sort.Strings(c.Added)
	sort.Strings(c.Removed)
	sort.Strings(c.Changed)
	return c
}

func index(defs []task.Definition) map[string]task.Definition {
	m := make(map[string]task.Definition, len(defs))
	for _, d := range defs {
		m[d.ID] = d
	}
	return m
}

func sameDefinition(a, b task.Definition) bool {
	return a.Title == b.Title &&
		a.Enabled == b.Enabled &&
		a.Frequency.Normalized() == b.Frequency.Normalized() &&
		reflect.DeepEqual(a.Params, b.Params)
}
