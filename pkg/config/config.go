package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig                 `json:"app" yaml:"app"`
	Gateways   map[string]GatewayConfig  `json:"gateways" yaml:"gateways"`
	Providers  map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Memory     MemoryConfig              `json:"memory" yaml:"memory"`
	Execution  ExecutionConfig           `json:"execution" yaml:"execution"`
	Logging    LoggingConfig             `json:"logging" yaml:"logging"`
	Metrics    MetricsConfig             `json:"metrics" yaml:"metrics"`
	Governance GovernanceConfig          `json:"governance" yaml:"governance"`
}

type AppConfig struct {
	Name       string `json:"name" yaml:"name"`
	Workspace  string `json:"workspace" yaml:"workspace"`
	PromptsDir string `json:"prompts_dir" yaml:"prompts_dir"`
}

type GatewayConfig struct {
	Token   string `json:"token" yaml:"token"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type" yaml:"type"`
	Path string `json:"path" yaml:"path"`
}

// ExecutionConfig bounds the task execution core.
type ExecutionConfig struct {
	// TaskTimeoutMS is the per-task wall-clock ceiling in milliseconds.
	TaskTimeoutMS int64 `json:"task_timeout_ms" yaml:"task_timeout_ms"`
	MaxIterations int   `json:"max_iterations" yaml:"max_iterations"`
	// MaxFallbacks caps fallback chains. Unset means 2, an explicit 0
	// disables fallbacks.
	MaxFallbacks    *int    `json:"max_fallbacks" yaml:"max_fallbacks"`
	ToolConcurrency int     `json:"tool_concurrency" yaml:"tool_concurrency"`
	Temperature     float64 `json:"temperature" yaml:"temperature"`
	// HistorySeed is how many past messages seed working memory.
	HistorySeed int `json:"history_seed" yaml:"history_seed"`
}

func (e ExecutionConfig) TaskTimeout() time.Duration {
	return time.Duration(e.TaskTimeoutMS) * time.Millisecond
}

// FallbackLimit is the fallback chain cap, 0 when fallbacks are disabled.
func (e ExecutionConfig) FallbackLimit() int {
	if e.MaxFallbacks == nil {
		return 0
	}
	return *e.MaxFallbacks
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Encoding   string `json:"encoding" yaml:"encoding"`
	LLMLogPath string `json:"llm_log_path" yaml:"llm_log_path"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
}

type GovernanceConfig struct {
	DeniedTools    []string `json:"denied_tools" yaml:"denied_tools"`
	DeniedPatterns []string `json:"denied_patterns" yaml:"denied_patterns"`
}

// LoadConfig reads a JSON or YAML (by extension) config file and fills defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &cfg)
	default:
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "cortex"
	}
	if c.App.Workspace == "" {
		c.App.Workspace = "./workspace"
	}
	if c.App.PromptsDir == "" {
		c.App.PromptsDir = "./prompts"
	}
	if c.Memory.Type == "" {
		c.Memory.Type = "sqlite"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = "cortex.db"
	}
	if c.Execution.TaskTimeoutMS <= 0 {
		c.Execution.TaskTimeoutMS = 3_600_000
	}
	if c.Execution.MaxIterations <= 0 {
		c.Execution.MaxIterations = 50
	}
	if c.Execution.MaxFallbacks == nil {
		n := 2
		c.Execution.MaxFallbacks = &n
	} else if *c.Execution.MaxFallbacks < 0 {
		n := 0
		c.Execution.MaxFallbacks = &n
	}
	if c.Execution.ToolConcurrency <= 0 {
		c.Execution.ToolConcurrency = 1
	}
	if c.Execution.HistorySeed <= 0 {
		c.Execution.HistorySeed = 10
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Encoding == "" {
		c.Logging.Encoding = "json"
	}
	if c.Logging.LLMLogPath == "" {
		c.Logging.LLMLogPath = filepath.Join("logs", "llm.jsonl")
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = "127.0.0.1:9464"
	}
}

// GetDefaultProvider returns the first enabled provider, by name order so the
// choice is stable.
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if p := c.Providers[name]; p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGatewayConfig returns a gateway's config if it is enabled and has a token.
func (c *Config) GetGatewayConfig(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled && g.Token != "" {
		return g, true
	}
	return GatewayConfig{}, false
}
