package main

import (
	"fmt"
	"strings"
)

type overrideList []string

func (o *overrideList) String() string {
	if o == nil {
		return ""
	}
	return strings.Join(*o, ",")
}

func (o *overrideList) Set(value string) error {
	*o = append(*o, value)
	return nil
}

// collectOverrides merges --override flags with the RECONF_OVERRIDES
// environment variable (comma-separated key=value entries). Flags win over
// the environment when both set the same path.
func collectOverrides(flags overrideList, env string) (map[string]string, error) {
	entries := make([]string, 0, len(flags))
	if trimmed := strings.TrimSpace(env); trimmed != "" {
		for _, part := range strings.Split(trimmed, ",") {
			entry := strings.TrimSpace(part)
			if entry == "" {
				return nil, fmt.Errorf("override entry cannot be empty")
			}
			entries = append(entries, entry)
		}
	}
	entries = append(entries, flags...)
	return parseOverrides(entries)
}

func parseOverrides(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	overrides := make(map[string]string, len(entries))
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			return nil, fmt.Errorf("override cannot be empty")
		}
		key, value, found := strings.Cut(trimmed, "=")
		if !found {
			return nil, fmt.Errorf("override must be key=value: %q", entry)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("override key cannot be empty: %q", entry)
		}
		overrides[key] = strings.TrimSpace(value)
	}
	return overrides, nil
}
