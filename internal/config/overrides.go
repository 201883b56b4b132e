package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Override is one dot-path assignment layered atop the persisted document,
// e.g. {"llms.nim_llm.temperature", "0.9"}.
type Override struct {
	Path  string
	Value string
}

// OverrideMap is an insertion-ordered set of overrides. Updating an existing
// path keeps its original position.
type OverrideMap struct {
	entries []Override
	index   map[string]int
}

func NewOverrideMap() *OverrideMap {
	return &OverrideMap{index: make(map[string]int)}
}

func (m *OverrideMap) Set(path, value string) {
	if m == nil {
		return
	}
	if position, ok := m.index[path]; ok {
		m.entries[position].Value = value
		return
	}
	m.index[path] = len(m.entries)
	m.entries = append(m.entries, Override{Path: path, Value: value})
}

func (m *OverrideMap) Get(path string) (string, bool) {
	if m == nil {
		return "", false
	}
	position, ok := m.index[path]
	if !ok {
		return "", false
	}
	return m.entries[position].Value, true
}

func (m *OverrideMap) Delete(path string) bool {
	if m == nil {
		return false
	}
	position, ok := m.index[path]
	if !ok {
		return false
	}
	m.entries = append(m.entries[:position], m.entries[position+1:]...)
	delete(m.index, path)
	for key, value := range m.index {
		if value > position {
			m.index[key] = value - 1
		}
	}
	return true
}

func (m *OverrideMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// Entries returns the overrides in insertion order.
func (m *OverrideMap) Entries() []Override {
	if m == nil || len(m.entries) == 0 {
		return nil
	}
	out := make([]Override, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *OverrideMap) Clone() *OverrideMap {
	if m == nil {
		return nil
	}
	clone := NewOverrideMap()
	for _, entry := range m.entries {
		clone.Set(entry.Path, entry.Value)
	}
	return clone
}

// ValidateOverridePath checks dot-notation syntax only; whether the path
// resolves against a document is decided at application time.
func ValidateOverridePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("override path is empty")
	}
	for _, segment := range strings.Split(path, ".") {
		if strings.TrimSpace(segment) == "" {
			return fmt.Errorf("override path %q has an empty segment", path)
		}
	}
	return nil
}

// applyOverride sets one dot-path on a configuration document and
// re-validates the result. The override string is coerced to the type of
// the value already at that path; a path that resolves to nothing is an
// error.
func applyOverride(cfg *Config, entry Override) (*Config, error) {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}

	current := gjson.GetBytes(payload, entry.Path)
	if !current.Exists() {
		return nil, fmt.Errorf("path %q does not resolve", entry.Path)
	}

	coerced, err := coerceOverrideValue(current, entry.Value)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", entry.Path, err)
	}

	updated, err := sjson.SetBytes(payload, entry.Path, coerced)
	if err != nil {
		return nil, fmt.Errorf("path %q: %w", entry.Path, err)
	}

	next := &Config{}
	if err := json.Unmarshal(updated, next); err != nil {
		return nil, fmt.Errorf("path %q: %w", entry.Path, err)
	}
	if err := next.Validate(); err != nil {
		return nil, fmt.Errorf("path %q: %w", entry.Path, err)
	}
	return next, nil
}

func coerceOverrideValue(current gjson.Result, value string) (any, error) {
	switch current.Type {
	case gjson.Number:
		if !strings.ContainsAny(current.Raw, ".eE") {
			parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
			if err == nil {
				return parsed, nil
			}
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to number", value)
		}
		return parsed, nil
	case gjson.True, gjson.False:
		parsed, err := strconv.ParseBool(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("cannot coerce %q to bool", value)
		}
		return parsed, nil
	default:
		return value, nil
	}
}
