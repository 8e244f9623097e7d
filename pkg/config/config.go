// Package config provides configuration loading and validation for the oracle engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from YAML file and environment variables.
func Load(path string) (*Config, error) {
	// Validate and sanitize path
	cleanPath := filepath.Clean(path)
	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	data, err := os.ReadFile(absPath) // #nosec G304 -- Path sanitized with filepath.Clean and filepath.Abs
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses raw YAML, expanding ${ENV} references, and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := applyDefaults(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Source defaults for fields where zero is a meaningful value.
const (
	DefaultSourceWeight   = 1.0
	DefaultSourceCooldown = 5 * time.Minute
)

// applyDefaults sets default values for optional fields.
func applyDefaults(cfg *Config) error {
	// Engine defaults
	if cfg.Engine.CycleInterval <= 0 {
		cfg.Engine.CycleInterval = Duration(15 * time.Second)
	}
	if cfg.Engine.CycleDeadline <= 0 {
		cfg.Engine.CycleDeadline = Duration(10 * time.Second)
	}
	if cfg.Engine.MaxClockSkew <= 0 {
		cfg.Engine.MaxClockSkew = Duration(5 * time.Second)
	}
	if cfg.Engine.PublishTimeout <= 0 {
		cfg.Engine.PublishTimeout = Duration(5 * time.Second)
	}

	for i := range cfg.Pairs {
		p := &cfg.Pairs[i]
		if err := defaults.Set(p); err != nil {
			return fmt.Errorf("pair %d defaults: %w", i, err)
		}
		if p.MaxStaleness <= 0 {
			p.MaxStaleness = Duration(60 * time.Second)
		}
	}

	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		if err := defaults.Set(s); err != nil {
			return fmt.Errorf("source %d defaults: %w", i, err)
		}
		if s.Name == "" {
			s.Name = s.ID
		}
		if s.Timeout <= 0 {
			s.Timeout = Duration(5 * time.Second)
		}
		if s.UpdateInterval <= 0 {
			s.UpdateInterval = Duration(15 * time.Second)
		}
		if s.Weight == nil {
			w := DefaultSourceWeight
			s.Weight = &w
		}
		if s.Cooldown == nil {
			c := Duration(DefaultSourceCooldown)
			s.Cooldown = &c
		}
	}

	// Publisher defaults
	if cfg.Publish.Kafka.PriceTopic == "" {
		cfg.Publish.Kafka.PriceTopic = "oracle.prices"
	}
	if cfg.Publish.Kafka.HistoryTopic == "" {
		cfg.Publish.Kafka.HistoryTopic = "oracle.history"
	}
	if cfg.Publish.Redis.Addr == "" {
		cfg.Publish.Redis.Addr = "localhost:6379"
	}
	if cfg.Publish.Redis.Prefix == "" {
		cfg.Publish.Redis.Prefix = "oracle"
	}
	if cfg.Publish.Redis.TTL <= 0 {
		cfg.Publish.Redis.TTL = Duration(5 * time.Minute)
	}
	if cfg.Publish.Redis.Channel == "" {
		cfg.Publish.Redis.Channel = "oracle.prices"
	}
	if cfg.Publish.ClickHouse.Addr == "" {
		cfg.Publish.ClickHouse.Addr = "localhost:9000"
	}
	if cfg.Publish.ClickHouse.Database == "" {
		cfg.Publish.ClickHouse.Database = "oracle"
	}
	if cfg.Publish.ClickHouse.Table == "" {
		cfg.Publish.ClickHouse.Table = "price_history"
	}

	// Server defaults
	if cfg.Server.HTTP.Addr == "" {
		cfg.Server.HTTP.Addr = ":8080"
	}
	if cfg.Server.WebSocket.Enabled && cfg.Server.WebSocket.Addr == "" {
		cfg.Server.WebSocket.Addr = ":8081"
	}

	// Metrics defaults
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9091"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}

	return nil
}
