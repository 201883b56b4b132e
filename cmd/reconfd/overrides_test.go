package main

import "testing"

func TestParseOverrides(t *testing.T) {
	overrides, err := parseOverrides([]string{
		"llms.nim_llm.temperature=0.9",
		"workflow.max_iterations = 5",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := overrides["llms.nim_llm.temperature"]; got != "0.9" {
		t.Fatalf("expected temperature override, got %q", got)
	}
	if got := overrides["workflow.max_iterations"]; got != "5" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
}

func TestParseOverridesErrors(t *testing.T) {
	cases := []struct {
		name    string
		entries []string
	}{
		{"missing separator", []string{"llms.nim_llm.temperature"}},
		{"empty entry", []string{"  "}},
		{"empty key", []string{"=0.9"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseOverrides(tc.entries); err == nil {
				t.Fatalf("expected error for %v", tc.entries)
			}
		})
	}
}

func TestParseOverridesEmptyInput(t *testing.T) {
	overrides, err := parseOverrides(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if overrides != nil {
		t.Fatalf("expected nil map, got %v", overrides)
	}
}

func TestCollectOverridesFlagsWinOverEnv(t *testing.T) {
	overrides, err := collectOverrides(
		overrideList{"llms.nim_llm.temperature=1.5"},
		"llms.nim_llm.temperature=0.2, workflow.max_iterations=3",
	)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if got := overrides["llms.nim_llm.temperature"]; got != "1.5" {
		t.Fatalf("expected flag to win, got %q", got)
	}
	if got := overrides["workflow.max_iterations"]; got != "3" {
		t.Fatalf("expected env entry kept, got %q", got)
	}
}

func TestCollectOverridesRejectsEmptyEnvEntry(t *testing.T) {
	if _, err := collectOverrides(nil, "a=1,,b=2"); err == nil {
		t.Fatal("expected error for empty env entry")
	}
}
