// Package config handles configuration loading and management for fleet.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/fleet/internal/host"
	"github.com/ShayCichocki/fleet/internal/recovery"
	"github.com/ShayCichocki/fleet/internal/safety"
	"github.com/ShayCichocki/fleet/internal/telemetry"
	"github.com/ShayCichocki/fleet/pkg/models"
)

// EnvPrefix prefixes environment overrides, e.g. FLEET_SAFETY_DEFAULT_TIER.
const EnvPrefix = "FLEET"

// ProjectFileName is the per-project override file searched up the tree.
const ProjectFileName = ".fleet.yaml"

// Config holds all configuration for fleet.
type Config struct {
	Safety       SafetyConfig       `mapstructure:"safety" yaml:"safety"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry" yaml:"telemetry"`
	Recovery     RecoveryConfig     `mapstructure:"recovery" yaml:"recovery"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	Host         HostConfig         `mapstructure:"host" yaml:"host"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Audit        AuditConfig        `mapstructure:"audit" yaml:"audit"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic" yaml:"anthropic"`
	TUI          TUIConfig          `mapstructure:"tui" yaml:"tui"`
}

// SafetyConfig holds policy engine settings.
type SafetyConfig struct {
	// DefaultTier applies to agents without an explicit binding (1-3).
	DefaultTier int `mapstructure:"default_tier" yaml:"default_tier"`
	// SettleDelay is the wait between sending a command and reading output.
	SettleDelay time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	// PolicyFile optionally overrides tier policies from YAML.
	PolicyFile string `mapstructure:"policy_file" yaml:"policy_file"`
	// PatternFile optionally adds dangerous command patterns from YAML.
	PatternFile string `mapstructure:"pattern_file" yaml:"pattern_file"`
}

// TelemetryConfig holds sampling and alerting settings.
type TelemetryConfig struct {
	Interval      time.Duration         `mapstructure:"interval" yaml:"interval"`
	Retention     int                   `mapstructure:"retention" yaml:"retention"`
	AlertCapacity int                   `mapstructure:"alert_capacity" yaml:"alert_capacity"`
	Agent         AgentThresholdsConfig `mapstructure:"agent" yaml:"agent"`
	System        SysThresholdsConfig   `mapstructure:"system" yaml:"system"`
}

// AgentThresholdsConfig holds per-agent alert limits.
type AgentThresholdsConfig struct {
	CPU          float64       `mapstructure:"cpu" yaml:"cpu"`
	MemoryMB     float64       `mapstructure:"memory_mb" yaml:"memory_mb"`
	ResponseTime time.Duration `mapstructure:"response_time" yaml:"response_time"`
}

// SysThresholdsConfig holds system-wide alert limits.
type SysThresholdsConfig struct {
	CPU       float64 `mapstructure:"cpu" yaml:"cpu"`
	MemoryMB  float64 `mapstructure:"memory_mb" yaml:"memory_mb"`
	ErrorRate float64 `mapstructure:"error_rate" yaml:"error_rate"`
}

// RecoveryConfig holds recovery controller settings.
type RecoveryConfig struct {
	MaxRetries    int           `mapstructure:"max_retries" yaml:"max_retries"`
	GracePeriod   time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
	CheckInterval time.Duration `mapstructure:"check_interval" yaml:"check_interval"`
}

// OrchestratorConfig holds task scheduling settings.
type OrchestratorConfig struct {
	// MaxParallel caps agents per task; 0 means every idle agent.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
	// UnitRetries is how often a unit is retried after a recovered host failure.
	UnitRetries int `mapstructure:"unit_retries" yaml:"unit_retries"`
	// Decomposer is "heuristic" or "planner".
	Decomposer string `mapstructure:"decomposer" yaml:"decomposer"`
}

// HostConfig holds agent host settings.
type HostConfig struct {
	SessionPrefix string `mapstructure:"session_prefix" yaml:"session_prefix"`
	ReadLines     int    `mapstructure:"read_lines" yaml:"read_lines"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Dir holds fleet.log; empty logs to stderr.
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// AuditConfig holds audit store settings.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	Model      string `mapstructure:"model" yaml:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock" yaml:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region" yaml:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// TUIConfig holds TUI display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate" yaml:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FLEET_*, ANTHROPIC_API_KEY)
// 2. Project config (.fleet.yaml in current directory or parent)
// 3. User config (~/.config/fleet/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return decode(v)
}

// LoadFromPath loads configuration from a specific file, still honoring
// defaults and environment overrides.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.Logging.Dir = expandEnv(cfg.Logging.Dir)
	cfg.Audit.Path = expandEnv(cfg.Audit.Path)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the components cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if !models.Tier(c.Safety.DefaultTier).Valid() {
		errs = append(errs, fmt.Errorf("safety.default_tier must be 1, 2 or 3, got %d", c.Safety.DefaultTier))
	}
	if c.Safety.SettleDelay < 0 {
		errs = append(errs, errors.New("safety.settle_delay must not be negative"))
	}
	if c.Telemetry.Interval <= 0 {
		errs = append(errs, errors.New("telemetry.interval must be positive"))
	}
	if c.Telemetry.Retention <= 0 {
		errs = append(errs, errors.New("telemetry.retention must be positive"))
	}
	if c.Telemetry.AlertCapacity <= 0 {
		errs = append(errs, errors.New("telemetry.alert_capacity must be positive"))
	}
	if err := c.Thresholds().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("telemetry thresholds: %w", err))
	}
	if c.Recovery.MaxRetries < 0 {
		errs = append(errs, errors.New("recovery.max_retries must not be negative"))
	}
	if c.Recovery.GracePeriod < 0 {
		errs = append(errs, errors.New("recovery.grace_period must not be negative"))
	}
	if c.Recovery.CheckInterval <= 0 {
		errs = append(errs, errors.New("recovery.check_interval must be positive"))
	}
	if c.Orchestrator.MaxParallel < 0 {
		errs = append(errs, errors.New("orchestrator.max_parallel must not be negative"))
	}
	if c.Orchestrator.UnitRetries < 0 {
		errs = append(errs, errors.New("orchestrator.unit_retries must not be negative"))
	}
	switch c.Orchestrator.Decomposer {
	case DecomposerHeuristic, DecomposerPlanner:
	default:
		errs = append(errs, fmt.Errorf("orchestrator.decomposer must be %q or %q, got %q",
			DecomposerHeuristic, DecomposerPlanner, c.Orchestrator.Decomposer))
	}
	if c.Host.ReadLines <= 0 {
		errs = append(errs, errors.New("host.read_lines must be positive"))
	}
	return errors.Join(errs...)
}

// Decomposer names.
const (
	DecomposerHeuristic = "heuristic"
	DecomposerPlanner   = "planner"
)

// Tier returns the configured default tier.
func (c *Config) Tier() models.Tier {
	return models.Tier(c.Safety.DefaultTier)
}

// Thresholds returns the telemetry alert thresholds.
func (c *Config) Thresholds() telemetry.Thresholds {
	return telemetry.Thresholds{
		AgentCPU:          c.Telemetry.Agent.CPU,
		AgentMemoryMB:     c.Telemetry.Agent.MemoryMB,
		AgentResponseTime: c.Telemetry.Agent.ResponseTime,
		SystemCPU:         c.Telemetry.System.CPU,
		SystemMemoryMB:    c.Telemetry.System.MemoryMB,
		ErrorRate:         c.Telemetry.System.ErrorRate,
	}
}

// TelemetryMonitorConfig returns the telemetry monitor configuration.
func (c *Config) TelemetryMonitorConfig() telemetry.Config {
	return telemetry.Config{
		Interval:      c.Telemetry.Interval,
		Retention:     c.Telemetry.Retention,
		AlertCapacity: c.Telemetry.AlertCapacity,
		Thresholds:    c.Thresholds(),
	}
}

// RecoveryControllerConfig returns the recovery controller configuration.
func (c *Config) RecoveryControllerConfig() recovery.Config {
	return recovery.Config{
		MaxRetries:    c.Recovery.MaxRetries,
		GracePeriod:   c.Recovery.GracePeriod,
		CheckInterval: c.Recovery.CheckInterval,
	}
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("safety.default_tier", d.Safety.DefaultTier)
	v.SetDefault("safety.settle_delay", d.Safety.SettleDelay.String())
	v.SetDefault("safety.policy_file", "")
	v.SetDefault("safety.pattern_file", "")

	v.SetDefault("telemetry.interval", d.Telemetry.Interval.String())
	v.SetDefault("telemetry.retention", d.Telemetry.Retention)
	v.SetDefault("telemetry.alert_capacity", d.Telemetry.AlertCapacity)
	v.SetDefault("telemetry.agent.cpu", d.Telemetry.Agent.CPU)
	v.SetDefault("telemetry.agent.memory_mb", d.Telemetry.Agent.MemoryMB)
	v.SetDefault("telemetry.agent.response_time", d.Telemetry.Agent.ResponseTime.String())
	v.SetDefault("telemetry.system.cpu", d.Telemetry.System.CPU)
	v.SetDefault("telemetry.system.memory_mb", d.Telemetry.System.MemoryMB)
	v.SetDefault("telemetry.system.error_rate", d.Telemetry.System.ErrorRate)

	v.SetDefault("recovery.max_retries", d.Recovery.MaxRetries)
	v.SetDefault("recovery.grace_period", d.Recovery.GracePeriod.String())
	v.SetDefault("recovery.check_interval", d.Recovery.CheckInterval.String())

	v.SetDefault("orchestrator.max_parallel", d.Orchestrator.MaxParallel)
	v.SetDefault("orchestrator.unit_retries", d.Orchestrator.UnitRetries)
	v.SetDefault("orchestrator.decomposer", d.Orchestrator.Decomposer)

	v.SetDefault("host.session_prefix", d.Host.SessionPrefix)
	v.SetDefault("host.read_lines", d.Host.ReadLines)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.dir", d.Logging.Dir)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.path", d.Audit.Path)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", d.Anthropic.Model)
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// getUserConfigDir returns the XDG config directory for fleet.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "fleet")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "fleet")
	}
	return filepath.Join(home, ".config", "fleet")
}

// findProjectConfig searches for .fleet.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	th := telemetry.DefaultThresholds()
	tc := telemetry.DefaultConfig()
	rc := recovery.DefaultConfig()
	return &Config{
		Safety: SafetyConfig{
			DefaultTier: int(models.TierSupervised),
			SettleDelay: 500 * time.Millisecond,
		},
		Telemetry: TelemetryConfig{
			Interval:      tc.Interval,
			Retention:     tc.Retention,
			AlertCapacity: tc.AlertCapacity,
			Agent: AgentThresholdsConfig{
				CPU:          th.AgentCPU,
				MemoryMB:     th.AgentMemoryMB,
				ResponseTime: th.AgentResponseTime,
			},
			System: SysThresholdsConfig{
				CPU:       th.SystemCPU,
				MemoryMB:  th.SystemMemoryMB,
				ErrorRate: th.ErrorRate,
			},
		},
		Recovery: RecoveryConfig{
			MaxRetries:    rc.MaxRetries,
			GracePeriod:   rc.GracePeriod,
			CheckInterval: rc.CheckInterval,
		},
		Orchestrator: OrchestratorConfig{
			UnitRetries: 1,
			Decomposer:  DecomposerHeuristic,
		},
		Host: HostConfig{
			SessionPrefix: host.DefaultSessionPrefix,
			ReadLines:     safety.DefaultReadLines,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Audit: AuditConfig{
			Enabled: true,
		},
		Anthropic: AnthropicConfig{
			Model: "claude-sonnet-4-20250514",
		},
		TUI: TUIConfig{
			RefreshRate: time.Second,
		},
	}
}

// YAML renders the configuration with the API key masked.
func (c *Config) YAML() ([]byte, error) {
	out := *c
	out.Anthropic.APIKey = MaskAPIKey(c.Anthropic.APIKey)
	return yaml.Marshal(&out)
}
