// Package config handles configuration loading and management for Sonata.
// It supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the orchestration core.
type Config struct {
	Anthropic    AnthropicConfig    `mapstructure:"anthropic" yaml:"anthropic"`
	Cache        CacheConfig        `mapstructure:"cache" yaml:"cache"`
	ContextStore ContextStoreConfig `mapstructure:"context_store" yaml:"context_store"`
	Delegation   DelegationConfig   `mapstructure:"delegation" yaml:"delegation"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator" yaml:"orchestrator"`
	State        StateConfig        `mapstructure:"state" yaml:"state"`
	Registry     RegistryConfig     `mapstructure:"registry" yaml:"registry"`
}

// AnthropicConfig holds Anthropic API settings for the language backend.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. Empty falls back to ANTHROPIC_API_KEY.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// Model is the model identifier used by the language service.
	Model string `mapstructure:"model" yaml:"model"`
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// direct API.
	UseAWSBedrock bool `mapstructure:"use_aws_bedrock" yaml:"use_aws_bedrock"`
	// AWSRegion is the Bedrock region (e.g. "us-west-2").
	AWSRegion string `mapstructure:"aws_region" yaml:"aws_region"`
	// AWSProfile is the optional shared-config profile name.
	AWSProfile string `mapstructure:"aws_profile" yaml:"aws_profile"`
}

// CacheConfig holds context cache settings.
type CacheConfig struct {
	// MaxSizeBytes is the cache size ceiling.
	MaxSizeBytes int64 `mapstructure:"max_size_bytes" yaml:"max_size_bytes"`
	// TTL is the maximum age before an entry is considered stale.
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl"`
	// PruneInterval is how often the background janitor runs.
	PruneInterval time.Duration `mapstructure:"prune_interval" yaml:"prune_interval"`
}

// ContextStoreConfig holds conversation store settings.
type ContextStoreConfig struct {
	// DefaultContextWindow is the token budget used when callers do not
	// supply constraints.
	DefaultContextWindow int `mapstructure:"default_context_window" yaml:"default_context_window"`
	// OptimizeThreshold is the fraction of the window at which the
	// compression pass starts running (0.0-1.0).
	OptimizeThreshold float64 `mapstructure:"optimize_threshold" yaml:"optimize_threshold"`
	// OverflowIdle is how long a context may sit unused before it is
	// spilled to disk.
	OverflowIdle time.Duration `mapstructure:"overflow_idle" yaml:"overflow_idle"`
}

// DelegationConfig holds service selection settings.
type DelegationConfig struct {
	// SpecialistTaskTypes lists task classes routed deterministically to
	// the designated specialist before generic scoring.
	SpecialistTaskTypes []string `mapstructure:"specialist_task_types" yaml:"specialist_task_types"`
	// SpecialistServiceID is the designated specialist service.
	SpecialistServiceID string `mapstructure:"specialist_service_id" yaml:"specialist_service_id"`
	// SpecialistFallbackID is the single named fallback for overrides.
	SpecialistFallbackID string `mapstructure:"specialist_fallback_id" yaml:"specialist_fallback_id"`
}

// OrchestratorConfig holds pipeline settings.
type OrchestratorConfig struct {
	// HistoryPerTask bounds retained results per task id.
	HistoryPerTask int `mapstructure:"history_per_task" yaml:"history_per_task"`
	// FeedbackLimit bounds the global feedback sample window.
	FeedbackLimit int `mapstructure:"feedback_limit" yaml:"feedback_limit"`
	// BottleneckInterval is how often bottleneck detection runs.
	BottleneckInterval time.Duration `mapstructure:"bottleneck_interval" yaml:"bottleneck_interval"`
}

// StateConfig holds persistence settings.
type StateConfig struct {
	// DBPath is the SQLite database location. Empty uses the XDG default.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

// RegistryConfig holds capability registry settings.
type RegistryConfig struct {
	// StaticTablePath points at the YAML fallback capability table.
	StaticTablePath string `mapstructure:"static_table_path" yaml:"static_table_path"`
	// WatchStaticTable enables hot reload of the table via fsnotify.
	WatchStaticTable bool `mapstructure:"watch_static_table" yaml:"watch_static_table"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables. Precedence (highest to lowest):
//  1. Environment variables (ANTHROPIC_API_KEY)
//  2. Project config (.sonata.yaml in the working directory or a parent)
//  3. User config (~/.config/sonata/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// setDefaults installs the built-in default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")
	v.SetDefault("cache.max_size_bytes", int64(50*1024*1024))
	v.SetDefault("cache.ttl", 30*time.Minute)
	v.SetDefault("cache.prune_interval", 5*time.Minute)
	v.SetDefault("context_store.default_context_window", 8192)
	v.SetDefault("context_store.optimize_threshold", 0.8)
	v.SetDefault("context_store.overflow_idle", 10*time.Minute)
	v.SetDefault("delegation.specialist_task_types", []string{"audio-analysis", "transcription", "feature-extraction"})
	v.SetDefault("delegation.specialist_service_id", "gama-audio")
	v.SetDefault("delegation.specialist_fallback_id", "anthropic-language")
	v.SetDefault("orchestrator.history_per_task", 10)
	v.SetDefault("orchestrator.feedback_limit", 1000)
	v.SetDefault("orchestrator.bottleneck_interval", time.Hour)
	v.SetDefault("registry.watch_static_table", false)
}

// userConfigDir returns the XDG config directory for Sonata.
func userConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "sonata")
}

// findProjectConfig walks up from the working directory looking for a
// .sonata.yaml override file.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".sonata.yaml")
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
