package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/viper"
)

// Config holds all Ad Alert Guardian configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Guard      GuardConfig      `mapstructure:"guard"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Settings   SettingsConfig   `mapstructure:"settings"`
	Snapshots  SnapshotsConfig  `mapstructure:"snapshots"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Checker    CheckerConfig    `mapstructure:"checker"`
	Server     ServerConfig     `mapstructure:"server"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StorageConfig defines the alert history backend.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// GuardConfig defines execution guard settings. Backend is one of memory,
// storage (the history database) or redis.
type GuardConfig struct {
	Backend      string        `mapstructure:"backend"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	CompletedTTL time.Duration `mapstructure:"completed_ttl"`
}

// RedisConfig defines the Redis connection used by the redis guard backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SettingsConfig points at the account targets file.
type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

// SnapshotsConfig points at the per-account metric documents.
type SnapshotsConfig struct {
	Dir string `mapstructure:"dir"`
}

// EvaluationConfig defines grading and lifecycle parameters.
type EvaluationConfig struct {
	CriticalDeviation float64       `mapstructure:"critical_deviation"`
	Retention         time.Duration `mapstructure:"retention"`
	Timezone          string        `mapstructure:"timezone"`
	RulesPath         string        `mapstructure:"rules_path"`
}

// ScheduleConfig holds cron specs. An empty spec disables the job.
type ScheduleConfig struct {
	AlertCheck string `mapstructure:"alert_check"`
	Sweep      string `mapstructure:"sweep"`
	Prune      string `mapstructure:"prune"`
}

// CheckerConfig bounds account runs.
type CheckerConfig struct {
	Concurrency int           `mapstructure:"concurrency"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
}

// ServerConfig defines the HTTP API listener.
type ServerConfig struct {
	Listen       string        `mapstructure:"listen"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertsConfig defines alerting integrations.
type AlertsConfig struct {
	Slack   SlackConfig   `mapstructure:"slack"`
	Webhook WebhookConfig `mapstructure:"webhook"`
}

// SlackConfig defines Slack webhook settings.
type SlackConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
	Channel    string `mapstructure:"channel"`
}

// WebhookConfig defines generic webhook settings.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Secret  string `mapstructure:"secret"`
}

// LoggingConfig defines logging settings. File enables rotating file output.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from file and environment variables.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("find home directory: %w", err)
	}
	base := filepath.Join(home, ".aag")

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(base)
		v.AddConfigPath(".")
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	// Defaults
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", filepath.Join(base, "alerts.db"))
	v.SetDefault("guard.backend", "storage")
	v.SetDefault("guard.task_timeout", "5m")
	v.SetDefault("guard.stale_after", "30m")
	v.SetDefault("guard.completed_ttl", "1h")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "aag:guard:")
	v.SetDefault("settings.path", filepath.Join(base, "accounts.yaml"))
	v.SetDefault("snapshots.dir", filepath.Join(base, "snapshots"))
	v.SetDefault("evaluation.critical_deviation", 0.3)
	v.SetDefault("evaluation.retention", "720h")
	v.SetDefault("evaluation.timezone", "Asia/Tokyo")
	v.SetDefault("schedule.alert_check", "0 9,12,15,18 * * *")
	v.SetDefault("schedule.sweep", "@hourly")
	v.SetDefault("schedule.prune", "30 3 * * *")
	v.SetDefault("checker.concurrency", 4)
	v.SetDefault("checker.run_timeout", "2m")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("alerts.slack.channel", "#ad-alerts")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	// Environment variables
	v.SetEnvPrefix("AAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects values that would make the engine misbehave.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite", "postgres", "json":
	default:
		return fmt.Errorf("invalid storage.driver %q", c.Storage.Driver)
	}
	switch c.Guard.Backend {
	case "memory", "storage", "redis":
	default:
		return fmt.Errorf("invalid guard.backend %q", c.Guard.Backend)
	}
	if c.Guard.Backend == "storage" && c.Storage.Driver == "json" {
		return errors.New("guard.backend storage requires a sqlite or postgres storage.driver")
	}
	if c.Evaluation.CriticalDeviation <= 0 {
		return fmt.Errorf("evaluation.critical_deviation must be positive, got %v", c.Evaluation.CriticalDeviation)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location returns the evaluation timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Evaluation.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Evaluation.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Evaluation.Timezone, err)
	}
	return loc, nil
}
