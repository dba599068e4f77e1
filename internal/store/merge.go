package store

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MergeFields applies an Update-style field merge to a raw JSON document and
// returns the merged document. Each field name is a slash path; intermediate
// nodes are created (or replaced, when not an object) as needed. Backends
// share this so all of them agree on merge semantics.
func MergeFields(doc []byte, fields map[string]any) ([]byte, error) {
	root := map[string]any{}
	if len(doc) > 0 {
		if err := json.Unmarshal(doc, &root); err != nil {
			return nil, fmt.Errorf("merge: %w", err)
		}
	}

	for path, value := range fields {
		normalized, err := normalize(value)
		if err != nil {
			return nil, fmt.Errorf("merge %q: %w", path, err)
		}
		setPath(root, strings.Split(path, "/"), normalized)
	}

	return json.Marshal(root)
}

func setPath(node map[string]any, parts []string, value any) {
	if len(parts) == 1 {
		node[parts[0]] = value
		return
	}
	child, ok := node[parts[0]].(map[string]any)
	if !ok {
		child = map[string]any{}
		node[parts[0]] = child
	}
	setPath(child, parts[1:], value)
}

// normalize round-trips a value through JSON so typed structs and plain maps
// merge identically.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
