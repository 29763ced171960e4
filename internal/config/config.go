// Package config defines the agent's validated configuration. Tunables come
// from a YAML file with sane defaults; secrets (API key, webhook URL) come
// from the environment only and are never written to disk.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables consulted at load time
const (
	EnvAnthropicAPIKey = "ANTHROPIC_API_KEY"
	EnvSlackWebhookURL = "SLACK_WEBHOOK_URL"
	EnvCPUThreshold    = "CPU_THRESHOLD"
	EnvContainerName   = "CONTAINER_NAME"
)

// Config holds the full agent configuration
type Config struct {
	// Targets are the container names to monitor. Each target runs its own
	// independent control loop.
	Targets []string

	// MetricName labels the monitored metric on incidents and snapshots
	MetricName string

	// PrometheusURL is the metrics backend. Empty selects the simulated
	// metric source so the agent runs end-to-end without a backend.
	PrometheusURL string

	// Queries are PromQL expressions tried in order until one returns a
	// usable value. Empty uses the built-in CPU usage queries.
	Queries []string

	// LogFile is the log excerpt source for root-cause analysis
	LogFile string

	// Detection
	Threshold         float64
	PollInterval      time.Duration
	SustainedDuration time.Duration

	// Remediation policy
	CooldownWindow         time.Duration
	MaxAttempts            int
	HealthProbeGracePeriod time.Duration
	RemediationActions     []string // escalation ladder, one rung per failed attempt

	// Per-step timeouts for each blocking stage of a cycle
	SampleTimeout      time.Duration
	AnalysisTimeout    time.Duration
	RemediationTimeout time.Duration
	VerifyTimeout      time.Duration

	// Persistence and publication
	DatabasePath   string
	StatusFilePath string

	// HeartbeatEvery prints a "running normally" line every N healthy cycles
	// (0 disables)
	HeartbeatEvery int

	// Secrets, loaded from the environment. Empty values select degraded
	// modes: no API key means analysis is skipped, no webhook URL means
	// notifications are logged only.
	AnthropicAPIKey string
	SlackWebhookURL string
}

// DefaultConfig returns the default agent configuration
func DefaultConfig() *Config {
	return &Config{
		Targets:                []string{"test-container"},
		MetricName:             "cpu_usage",
		Threshold:              80,
		PollInterval:           30 * time.Second,
		SustainedDuration:      120 * time.Second,
		CooldownWindow:         5 * time.Minute,
		MaxAttempts:            3,
		HealthProbeGracePeriod: 5 * time.Second,
		RemediationActions:     []string{"restart"},
		SampleTimeout:          10 * time.Second,
		AnalysisTimeout:        60 * time.Second,
		RemediationTimeout:     60 * time.Second,
		VerifyTimeout:          15 * time.Second,
		LogFile:                "logs/syslog.log",
		DatabasePath:           "data/incidents.db",
		StatusFilePath:         "data/ui_data.json",
		HeartbeatEvery:         5,
	}
}

// fileConfig is the YAML shape. Durations are strings ("30s", "5m") and are
// converted during Load.
type fileConfig struct {
	Targets       []string `yaml:"targets,omitempty"`
	MetricName    string   `yaml:"metric_name,omitempty"`
	PrometheusURL string   `yaml:"prometheus_url,omitempty"`
	Queries       []string `yaml:"queries,omitempty"`
	LogFile       string   `yaml:"log_file,omitempty"`

	Threshold         *float64 `yaml:"threshold,omitempty"`
	PollInterval      string   `yaml:"poll_interval,omitempty"`
	SustainedDuration string   `yaml:"sustained_duration,omitempty"`

	CooldownWindow         string   `yaml:"cooldown_window,omitempty"`
	MaxAttempts            *int     `yaml:"max_attempts,omitempty"`
	HealthProbeGracePeriod string   `yaml:"health_probe_grace_period,omitempty"`
	RemediationActions     []string `yaml:"remediation_actions,omitempty"`

	SampleTimeout      string `yaml:"sample_timeout,omitempty"`
	AnalysisTimeout    string `yaml:"analysis_timeout,omitempty"`
	RemediationTimeout string `yaml:"remediation_timeout,omitempty"`
	VerifyTimeout      string `yaml:"verify_timeout,omitempty"`

	DatabasePath   string `yaml:"database_path,omitempty"`
	StatusFilePath string `yaml:"status_file,omitempty"`
	HeartbeatEvery *int   `yaml:"heartbeat_every,omitempty"`
}

// Load reads configuration from a YAML file, applies environment overrides,
// and validates the result. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
		if err := fc.apply(cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (fc *fileConfig) apply(cfg *Config) error {
	if len(fc.Targets) > 0 {
		cfg.Targets = fc.Targets
	}
	if fc.MetricName != "" {
		cfg.MetricName = fc.MetricName
	}
	cfg.PrometheusURL = fc.PrometheusURL
	if len(fc.Queries) > 0 {
		cfg.Queries = fc.Queries
	}
	if fc.LogFile != "" {
		cfg.LogFile = fc.LogFile
	}
	if fc.Threshold != nil {
		cfg.Threshold = *fc.Threshold
	}
	if fc.MaxAttempts != nil {
		cfg.MaxAttempts = *fc.MaxAttempts
	}
	if len(fc.RemediationActions) > 0 {
		cfg.RemediationActions = fc.RemediationActions
	}
	if fc.DatabasePath != "" {
		cfg.DatabasePath = fc.DatabasePath
	}
	if fc.StatusFilePath != "" {
		cfg.StatusFilePath = fc.StatusFilePath
	}
	if fc.HeartbeatEvery != nil {
		cfg.HeartbeatEvery = *fc.HeartbeatEvery
	}

	durations := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.PollInterval, &cfg.PollInterval, "poll_interval"},
		{fc.SustainedDuration, &cfg.SustainedDuration, "sustained_duration"},
		{fc.CooldownWindow, &cfg.CooldownWindow, "cooldown_window"},
		{fc.HealthProbeGracePeriod, &cfg.HealthProbeGracePeriod, "health_probe_grace_period"},
		{fc.SampleTimeout, &cfg.SampleTimeout, "sample_timeout"},
		{fc.AnalysisTimeout, &cfg.AnalysisTimeout, "analysis_timeout"},
		{fc.RemediationTimeout, &cfg.RemediationTimeout, "remediation_timeout"},
		{fc.VerifyTimeout, &cfg.VerifyTimeout, "verify_timeout"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = parsed
	}
	return nil
}

// applyEnv layers environment overrides on top of file values. CPU_THRESHOLD
// and CONTAINER_NAME match the knobs operators already use for this agent.
func applyEnv(cfg *Config) {
	cfg.AnthropicAPIKey = os.Getenv(EnvAnthropicAPIKey)
	cfg.SlackWebhookURL = os.Getenv(EnvSlackWebhookURL)

	if raw := os.Getenv(EnvCPUThreshold); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.Threshold = v
		}
	}
	if name := os.Getenv(EnvContainerName); name != "" {
		cfg.Targets = []string{name}
	}
}

// Validate checks the configuration for values the control loop cannot run with
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("at least one target is required")
	}
	for _, t := range c.Targets {
		if t == "" {
			return fmt.Errorf("target names must be non-empty")
		}
	}
	if c.Threshold <= 0 || c.Threshold > 100 {
		return fmt.Errorf("threshold must be in (0, 100] (got %v)", c.Threshold)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive (got %v)", c.PollInterval)
	}
	if c.SustainedDuration < 0 {
		return fmt.Errorf("sustained_duration cannot be negative (got %v)", c.SustainedDuration)
	}
	if c.CooldownWindow < 0 {
		return fmt.Errorf("cooldown_window cannot be negative (got %v)", c.CooldownWindow)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1 (got %d)", c.MaxAttempts)
	}
	if len(c.RemediationActions) == 0 {
		return fmt.Errorf("at least one remediation action is required")
	}
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path is required")
	}
	if c.StatusFilePath == "" {
		return fmt.Errorf("status_file is required")
	}
	return nil
}
