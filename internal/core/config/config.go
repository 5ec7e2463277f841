package config

import (
	"time"

	"jobsieve/internal/core/domain"
	"jobsieve/internal/infra/storage/postgres"
	"jobsieve/internal/infra/storage/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	Database   postgres.Config  `yaml:"database"`
	Redis      redis.Config     `yaml:"redis"`
	Queue      QueueConfig      `yaml:"queue"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	Recovery   RecoveryConfig   `yaml:"recovery"`
	Cache      CacheConfig      `yaml:"cache"`
	Profile    ProfileConfig    `yaml:"profile"`
	Source     SourceConfig     `yaml:"source"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ServerConfig holds ops HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// StoreConfig selects the storage engine.
type StoreConfig struct {
	// Driver forces an engine: postgres, redis or memory. Empty picks the
	// first engine with a configured URL, falling back to memory.
	Driver string `yaml:"driver"`
}

// QueueConfig holds processing queue settings.
type QueueConfig struct {
	MaxConcurrent  int  `yaml:"max_concurrent"`
	RestoreOnStart bool `yaml:"restore_on_start"`
}

// ClassifierConfig holds the analysis provider settings.
type ClassifierConfig struct {
	BaseURL        string        `yaml:"base_url"`
	APIKey         string        `yaml:"api_key"`
	Model          string        `yaml:"model"`
	Timeout        time.Duration `yaml:"timeout"`
	Threshold      float64       `yaml:"threshold"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
	DrainTimeout     time.Duration `yaml:"drain_timeout"`
}

// RecoveryConfig holds recovery sweep settings.
type RecoveryConfig struct {
	Interval    time.Duration `yaml:"interval"`
	RetryWindow time.Duration `yaml:"retry_window"`
}

// CacheConfig holds processed-cache settings.
type CacheConfig struct {
	RebuildCron string `yaml:"rebuild_cron"`
}

// ProfileConfig mirrors domain.Profile with YAML keys.
type ProfileConfig struct {
	Skills          []string `yaml:"skills"`
	Summary         string   `yaml:"summary"`
	ExcludeKeywords []string `yaml:"exclude_keywords"`
}

// Domain converts the section into the domain profile.
func (p ProfileConfig) Domain() domain.Profile {
	return domain.Profile{
		Skills:          p.Skills,
		Summary:         p.Summary,
		ExcludeKeywords: p.ExcludeKeywords,
	}
}

// SourceConfig holds the posting source API settings.
type SourceConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// NotifyConfig holds notification settings.
type NotifyConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig holds Telegram bot credentials.
type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID string `yaml:"chat_id"`
}
