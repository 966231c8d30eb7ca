package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// IsYAML reports whether path names a YAML file. Anything else is read as
// JSON.
func IsYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// YAMLToJSON re-encodes a single YAML document as JSON, so config and task
// files share the JSON decoders and their strictness. Empty input becomes
// null. A stream holding more than one document is an error, and so is a
// mapping whose keys collide once written as strings (1 and "1").
func YAMLToJSON(data []byte) ([]byte, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var doc any
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return []byte("null"), nil
		}
		return nil, fmt.Errorf("yaml: %w", err)
	}
	var next any
	switch err := dec.Decode(&next); {
	case errors.Is(err, io.EOF):
	case err == nil:
		return nil, errors.New("yaml: multiple documents in one file")
	default:
		return nil, fmt.Errorf("yaml: %w", err)
	}

	v, err := jsonValue(doc, "$")
	if err != nil {
		return nil, err
	}
	return json.Marshal(v)
}

// jsonValue rewrites decoded YAML so encoding/json accepts it. at is the
// JSON-path-ish location used in errors.
func jsonValue(in any, at string) (any, error) {
	switch x := in.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			cv, err := jsonValue(v, at+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = cv
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			key := fmt.Sprint(k)
			if _, dup := out[key]; dup {
				return nil, fmt.Errorf("yaml: key %q defined twice at %s", key, at)
			}
			cv, err := jsonValue(v, at+"."+key)
			if err != nil {
				return nil, err
			}
			out[key] = cv
		}
		return out, nil
	case []any:
		out := make([]any, len(x))
		for i, v := range x {
			cv, err := jsonValue(v, fmt.Sprintf("%s[%d]", at, i))
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	}
	return in, nil
}
