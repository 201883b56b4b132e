package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config is an agent-toolkit configuration document: runtime defaults, named
// LLM endpoints, and the workflow that ties them together.
type Config struct {
	General  GeneralConfig        `yaml:"general" json:"general" toml:"general"`
	LLMs     map[string]LLMConfig `yaml:"llms" json:"llms" toml:"llms"`
	Workflow WorkflowConfig       `yaml:"workflow" json:"workflow" toml:"workflow"`
}

type GeneralConfig struct {
	LogLevel  string `yaml:"log_level" json:"log_level" toml:"log_level"`
	CacheDir  string `yaml:"cache_dir,omitempty" json:"cache_dir,omitempty" toml:"cache_dir,omitempty"`
	Telemetry bool   `yaml:"telemetry" json:"telemetry" toml:"telemetry"`
}

type LLMConfig struct {
	Model       string  `yaml:"model" json:"model" toml:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature" toml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens" toml:"max_tokens"`
	BaseURL     string  `yaml:"base_url,omitempty" json:"base_url,omitempty" toml:"base_url,omitempty"`
}

type WorkflowConfig struct {
	Type          string `yaml:"type" json:"type" toml:"type"`
	LLM           string `yaml:"llm,omitempty" json:"llm,omitempty" toml:"llm,omitempty"`
	MaxIterations int    `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty" toml:"max_iterations,omitempty"`
}

// Validate checks structural and semantic constraints. The zero document is
// not valid; every usable configuration names a workflow type.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("configuration is nil")
	}
	if strings.TrimSpace(c.Workflow.Type) == "" {
		return fmt.Errorf("workflow: type is required")
	}
	if c.Workflow.MaxIterations < 0 {
		return fmt.Errorf("workflow: max_iterations must not be negative")
	}
	if c.Workflow.LLM != "" {
		if _, ok := c.LLMs[c.Workflow.LLM]; !ok {
			return fmt.Errorf("workflow: llm %q is not defined", c.Workflow.LLM)
		}
	}
	for name, llm := range c.LLMs {
		if strings.TrimSpace(llm.Model) == "" {
			return fmt.Errorf("llms.%s: model is required", name)
		}
		if llm.Temperature < 0 || llm.Temperature > 2 {
			return fmt.Errorf("llms.%s: temperature %v outside [0, 2]", name, llm.Temperature)
		}
		if llm.MaxTokens < 0 {
			return fmt.Errorf("llms.%s: max_tokens must not be negative", name)
		}
	}
	if c.General.LogLevel != "" {
		switch strings.ToLower(c.General.LogLevel) {
		case "debug", "info", "warning", "warn", "error":
		default:
			return fmt.Errorf("general: unknown log_level %q", c.General.LogLevel)
		}
	}
	return nil
}

// Clone returns a deep copy via a JSON round-trip. Snapshots and rollback
// depend on clones never sharing mutable state with the original.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return nil
	}
	clone := &Config{}
	if err := json.Unmarshal(payload, clone); err != nil {
		return nil
	}
	return clone
}
