package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Pre-seed the one default a zero check cannot express: an absent
	// restore_on_start must not read as an explicit false.
	cfg.Queue.RestoreOnStart = true

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8090
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Queue.MaxConcurrent == 0 {
		cfg.Queue.MaxConcurrent = 3
	}
	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 60 * time.Second
	}
	if cfg.Classifier.Threshold == 0 {
		cfg.Classifier.Threshold = 0.6
	}
	if cfg.Classifier.MaxAttempts == 0 {
		cfg.Classifier.MaxAttempts = 3
	}
	if cfg.Classifier.InitialBackoff == 0 {
		cfg.Classifier.InitialBackoff = 2 * time.Second
	}
	if cfg.Breaker.FailureThreshold == 0 {
		cfg.Breaker.FailureThreshold = 3
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = 5 * time.Minute
	}
	if cfg.Breaker.DrainTimeout == 0 {
		cfg.Breaker.DrainTimeout = 30 * time.Second
	}
	if cfg.Recovery.Interval == 0 {
		cfg.Recovery.Interval = 15 * time.Minute
	}
	if cfg.Recovery.RetryWindow == 0 {
		cfg.Recovery.RetryWindow = 48 * time.Hour
	}
	if cfg.Cache.RebuildCron == "" {
		cfg.Cache.RebuildCron = "0 4 * * *"
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = 10 * time.Second
	}
}

func validate(cfg *AppConfig) error {
	if cfg.Classifier.Threshold < 0 || cfg.Classifier.Threshold > 1 {
		return fmt.Errorf("classifier.threshold must be within [0, 1], got %v", cfg.Classifier.Threshold)
	}
	if cfg.Queue.MaxConcurrent < 1 {
		return fmt.Errorf("queue.max_concurrent must be at least 1, got %d", cfg.Queue.MaxConcurrent)
	}
	switch cfg.Store.Driver {
	case "", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("store.driver must be postgres, redis or memory, got %q", cfg.Store.Driver)
	}
	return nil
}
