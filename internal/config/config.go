package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8085"`

	// Record store
	DBPath string `envconfig:"DB_PATH" default:"collab.db"`

	// Session lifecycle
	HeartbeatInterval time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"30s"`
	ActiveUserWindow  time.Duration `envconfig:"ACTIVE_USER_WINDOW" default:"5m"`

	// Polling channel
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	LookbackWindow time.Duration `envconfig:"LOOKBACK_WINDOW" default:"5s"`
	PresenceWindow time.Duration `envconfig:"PRESENCE_WINDOW" default:"30s"`
	EventBatchSize int           `envconfig:"EVENT_BATCH_SIZE" default:"10"`

	// File locks
	LockTTL           time.Duration `envconfig:"LOCK_TTL" default:"30m"`
	LockSweepInterval time.Duration `envconfig:"LOCK_SWEEP_INTERVAL" default:"5m"`

	// Retention (0 disables a rule)
	CursorRetention        time.Duration `envconfig:"CURSOR_RETENTION" default:"1h"`
	EventRetention         time.Duration `envconfig:"EVENT_RETENTION" default:"168h"`
	RetentionSweepInterval time.Duration `envconfig:"RETENTION_SWEEP_INTERVAL" default:"10m"`
}

// Development returns true when running in development mode.
func (c *Config) Development() bool {
	return c.Environment == "development"
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}
