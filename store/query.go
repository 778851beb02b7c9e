package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// JSON returns the state snapshot encoded as JSON.
func (s *Store) JSON() ([]byte, error) {
	data, err := json.Marshal(s.Get())
	if err != nil {
		return nil, fmt.Errorf("store: encode state: %w", err)
	}
	return data, nil
}

// Query evaluates a gjson path against the state snapshot, e.g.
// Query("user.name") or Query("items.#").
func (s *Store) Query(path string) (gjson.Result, error) {
	data, err := s.JSON()
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.GetBytes(data, path), nil
}

// PathDelta builds a shallow top-level delta that applies value at a nested
// path. The top-level key's current document is rewritten with sjson and
// returned whole, so nested writes compose with the store's shallow merge.
// Non-object current values are replaced by a fresh object.
func PathDelta(state State, path string, value any) (Delta, error) {
	root, rest, nested := strings.Cut(path, ".")
	if root == "" {
		return nil, fmt.Errorf("store: empty path")
	}
	if !nested {
		return Delta{root: value}, nil
	}

	doc := []byte("{}")
	if current, found := state[root]; found {
		b, err := json.Marshal(current)
		if err != nil {
			return nil, fmt.Errorf("store: encode %q: %w", root, err)
		}
		if gjson.ParseBytes(b).IsObject() {
			doc = b
		}
	}

	updated, err := sjson.SetBytes(doc, rest, value)
	if err != nil {
		return nil, fmt.Errorf("store: set %q: %w", path, err)
	}

	var next any
	if err := json.Unmarshal(updated, &next); err != nil {
		return nil, fmt.Errorf("store: decode %q: %w", root, err)
	}
	return Delta{root: next}, nil
}
