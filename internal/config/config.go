// Package config handles talentscout configuration loading.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/talentscout/config.yaml,
// /etc/talentscout/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "talentscout", "config.yaml"))
	}

	paths = append(paths, "/etc/talentscout/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all talentscout configuration.
type Config struct {
	MCP          MCPConfig        `yaml:"mcp"`
	Anthropic    AnthropicConfig  `yaml:"anthropic"`
	Models       ModelsConfig     `yaml:"models"`
	Agent        AgentConfig      `yaml:"agent"`
	Summarizer   SummarizerConfig `yaml:"summarizer"`
	Schedule     ScheduleConfig   `yaml:"schedule"`
	DataDir      string           `yaml:"data_dir"`
	PlaybookFile string           `yaml:"playbook_file"` // empty = built-in playbook
	LogLevel     string           `yaml:"log_level"`
	LogFormat    string           `yaml:"log_format"` // text or json
}

// MCPConfig lists the tool processes to run and the timing applied to
// all of them.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`

	// StartGrace is how long a process must survive after spawn.
	StartGrace time.Duration `yaml:"start_grace"`
	// CallTimeout bounds every tools/list and tools/call round trip.
	CallTimeout time.Duration `yaml:"call_timeout"`
	// StopTimeout is the wait between SIGTERM and SIGKILL.
	StopTimeout time.Duration `yaml:"stop_timeout"`
	// StartConcurrency bounds how many processes start at once.
	StartConcurrency int `yaml:"start_concurrency"`
}

// MCPServerConfig defines one tool process.
type MCPServerConfig struct {
	Name      string   `yaml:"name"`
	Command   string   `yaml:"command"`
	Args      []string `yaml:"args"`
	Env       []string `yaml:"env"`       // KEY=VALUE, appended to the inherited environment
	Handshake bool     `yaml:"handshake"` // send initialize before tools/list

	// IncludeTools, if set, is an allowlist of tool names.
	IncludeTools []string `yaml:"include_tools"`
	// ExcludeTools is a denylist, ignored when IncludeTools is set.
	ExcludeTools []string `yaml:"exclude_tools"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxRetries int    `yaml:"max_retries"`

	// HealthCheck is how often serve confirms the API is reachable.
	// Scheduled cycles are skipped while it is not.
	HealthCheck time.Duration `yaml:"health_check"`
}

// ModelsConfig names the models used for each job.
type ModelsConfig struct {
	Agent      string `yaml:"agent"`
	Summarizer string `yaml:"summarizer"`
}

// AgentConfig tunes the reasoning loop.
type AgentConfig struct {
	MaxIterations int     `yaml:"max_iterations"`
	MaxTokens     int     `yaml:"max_tokens"`
	Temperature   float64 `yaml:"temperature"`
	// TaskTimeout bounds one playbook task, tool calls included.
	TaskTimeout time.Duration `yaml:"task_timeout"`
}

// SummarizerConfig controls condensing of long tool results.
type SummarizerConfig struct {
	// Enabled defaults to true when unset.
	Enabled     *bool         `yaml:"enabled"`
	MinChars    int           `yaml:"min_chars"`
	MaxWords    int           `yaml:"max_words"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
}

// IsEnabled reports whether tool results should be condensed.
func (s SummarizerConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// ScheduleConfig defines when recruiting cycles run.
type ScheduleConfig struct {
	// Every runs a cycle at a fixed interval. Zero disables it.
	Every time.Duration `yaml:"every"`
	// Daily lists wall-clock times ("HH:MM") in Timezone.
	Daily []string `yaml:"daily"`
	// Timezone is an IANA zone name; empty means the local zone.
	Timezone string `yaml:"timezone"`
	// RunOnStart runs one cycle immediately when serving begins.
	RunOnStart bool `yaml:"run_on_start"`
}

// envOverrides are read from the process environment after the file.
type envOverrides struct {
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	LogLevel        string `env:"SCOUT_LOG_LEVEL"`
	DataDir         string `env:"SCOUT_DATA_DIR"`
}

// Load reads configuration from a YAML file, expands ${VAR} references,
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables. The API key only fills an
// empty file value; log level and data dir override the file.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("read environment: %w", err)
	}

	if c.Anthropic.APIKey == "" {
		c.Anthropic.APIKey = env.AnthropicAPIKey
	}
	if env.LogLevel != "" {
		c.LogLevel = env.LogLevel
	}
	if env.DataDir != "" {
		c.DataDir = env.DataDir
	}
	return nil
}

// applyDefaults fills zero values with their defaults.
func (c *Config) applyDefaults() {
	if c.MCP.StartGrace == 0 {
		c.MCP.StartGrace = 500 * time.Millisecond
	}
	if c.MCP.CallTimeout == 0 {
		c.MCP.CallTimeout = 60 * time.Second
	}
	if c.MCP.StopTimeout == 0 {
		c.MCP.StopTimeout = 5 * time.Second
	}
	if c.MCP.StartConcurrency == 0 {
		c.MCP.StartConcurrency = 4
	}

	if c.Anthropic.MaxRetries == 0 {
		c.Anthropic.MaxRetries = 2
	}
	if c.Anthropic.HealthCheck == 0 {
		c.Anthropic.HealthCheck = 10 * time.Minute
	}

	if c.Models.Agent == "" {
		c.Models.Agent = "claude-sonnet-4-20250514"
	}
	if c.Models.Summarizer == "" {
		c.Models.Summarizer = c.Models.Agent
	}

	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = 10
	}
	if c.Agent.MaxTokens == 0 {
		c.Agent.MaxTokens = 4096
	}
	if c.Agent.TaskTimeout == 0 {
		c.Agent.TaskTimeout = 10 * time.Minute
	}

	if c.Summarizer.MinChars == 0 {
		c.Summarizer.MinChars = 800
	}
	if c.Summarizer.MaxWords == 0 {
		c.Summarizer.MaxWords = 100
	}
	if c.Summarizer.MaxTokens == 0 {
		c.Summarizer.MaxTokens = 500
	}
	if c.Summarizer.Temperature == 0 {
		c.Summarizer.Temperature = 0.3
	}
	if c.Summarizer.Timeout == 0 {
		c.Summarizer.Timeout = 30 * time.Second
	}

	if c.Schedule.Every == 0 && len(c.Schedule.Daily) == 0 {
		c.Schedule.Every = 30 * time.Minute
		c.Schedule.Daily = []string{"09:00", "17:00"}
	}

	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks the configuration for errors that would only surface
// later at runtime.
func (c *Config) Validate() error {
	var errs []error

	seen := make(map[string]bool, len(c.MCP.Servers))
	for i, s := range c.MCP.Servers {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: name is required", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: duplicate name %q", i, s.Name))
		}
		seen[s.Name] = true
		if s.Command == "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d] (%s): command is required", i, s.Name))
		}
		for _, kv := range s.Env {
			if !strings.Contains(kv, "=") {
				errs = append(errs, fmt.Errorf("mcp.servers[%d] (%s): env entry %q is not KEY=VALUE", i, s.Name, kv))
			}
		}
	}

	if c.MCP.StartGrace < 0 || c.MCP.CallTimeout < 0 || c.MCP.StopTimeout < 0 {
		errs = append(errs, errors.New("mcp: durations must not be negative"))
	}
	if c.Anthropic.HealthCheck < 0 {
		errs = append(errs, errors.New("anthropic.health_check must not be negative"))
	}
	if c.MCP.StartConcurrency < 0 {
		errs = append(errs, errors.New("mcp.start_concurrency must not be negative"))
	}
	if c.Agent.MaxIterations < 0 {
		errs = append(errs, errors.New("agent.max_iterations must not be negative"))
	}
	if c.Agent.Temperature < 0 || c.Agent.Temperature > 1 {
		errs = append(errs, fmt.Errorf("agent.temperature %v out of range [0,1]", c.Agent.Temperature))
	}
	if c.Schedule.Every < 0 {
		errs = append(errs, errors.New("schedule.every must not be negative"))
	}
	if c.Schedule.Timezone != "" {
		if _, err := time.LoadLocation(c.Schedule.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("schedule.timezone: %w", err))
		}
	}
	for _, d := range c.Schedule.Daily {
		if _, _, err := ParseClock(d); err != nil {
			errs = append(errs, fmt.Errorf("schedule.daily: %w", err))
		}
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format %q (valid: text, json)", c.LogFormat))
	}

	return errors.Join(errs...)
}

// Location returns the schedule's time zone, falling back to the local
// zone when unset or invalid.
func (s ScheduleConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ParseClock parses a 24-hour "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q (want HH:MM)", s)
	}
	return t.Hour(), t.Minute(), nil
}

// Default returns a configuration with every default applied and no
// tool servers.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
