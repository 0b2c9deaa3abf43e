// Package config loads docdeck settings from an optional YAML file and
// DOCDECK_* environment variables. Environment always wins, so the
// base URL and collection can be switched without touching the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all settings for the CLI, the client, and the local
// server.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Query    QueryConfig    `mapstructure:"query"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Server   ServerConfig   `mapstructure:"server"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

type BackendConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutMs         int     `mapstructure:"timeout_ms"`
	MaxRetries        int     `mapstructure:"max_retries"`
	RetryDelayMs      int     `mapstructure:"retry_delay_ms"`
	BackoffMultiplier float64 `mapstructure:"backoff_multiplier"`
	CircuitBreaker    bool    `mapstructure:"circuit_breaker"`
}

type QueryConfig struct {
	Collection   string `mapstructure:"collection"`
	CacheTTLSecs int    `mapstructure:"cache_ttl_secs"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type ServerConfig struct {
	Port  int    `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

type PipelineConfig struct {
	// Local enables mock mode: documents are stored and processed
	// locally instead of being sent to the backend.
	Local       bool    `mapstructure:"local"`
	StepDelayMs int     `mapstructure:"step_delay_ms"`
	FailureRate float64 `mapstructure:"failure_rate"`
	Seed        int64   `mapstructure:"seed"`
}

// Timeout returns the backend request deadline.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the base backoff delay.
func (b BackendConfig) RetryDelay() time.Duration {
	return time.Duration(b.RetryDelayMs) * time.Millisecond
}

// CacheTTL returns the query cache freshness window.
func (q QueryConfig) CacheTTL() time.Duration {
	return time.Duration(q.CacheTTLSecs) * time.Second
}

// StepDelay returns the simulated work per pipeline step.
func (p PipelineConfig) StepDelay() time.Duration {
	return time.Duration(p.StepDelayMs) * time.Millisecond
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "docdeck")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docdeck"
	}
	return filepath.Join(home, ".local", "share", "docdeck")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.base_url", "http://localhost:8080/api")
	v.SetDefault("backend.timeout_ms", 30000)
	v.SetDefault("backend.max_retries", 3)
	v.SetDefault("backend.retry_delay_ms", 1000)
	v.SetDefault("backend.backoff_multiplier", 2.0)
	v.SetDefault("backend.circuit_breaker", false)

	v.SetDefault("query.collection", "default")
	v.SetDefault("query.cache_ttl_secs", 300)

	v.SetDefault("storage.data_dir", defaultDataDir())

	v.SetDefault("server.port", 4600)
	v.SetDefault("server.token", "")

	v.SetDefault("pipeline.local", false)
	v.SetDefault("pipeline.step_delay_ms", 50)
	v.SetDefault("pipeline.failure_rate", 0)
	v.SetDefault("pipeline.seed", 1)
}

// Load reads configuration. The config file is optional; a missing one
// is not an error.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		v.AddConfigPath(filepath.Join(dir, "docdeck"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "docdeck"))
	}
	v.AddConfigPath(".")

	v.SetEnvPrefix("DOCDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Backend.BaseURL == "" {
		return Config{}, fmt.Errorf("backend.base_url must not be empty")
	}
	if cfg.Pipeline.FailureRate < 0 || cfg.Pipeline.FailureRate >= 1 {
		return Config{}, fmt.Errorf("pipeline.failure_rate must be in [0, 1)")
	}
	return cfg, nil
}
