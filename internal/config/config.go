package config

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrMissingDatabaseURL is returned when no database URL is configured.
var ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")

// Defaults applied when a value is not configured.
const (
	DefaultServerPort      = "8080"
	DefaultUserAgent       = "crowdqueue/1.0"
	DefaultMetadataTimeout = 3 * time.Second
	DefaultSnapshotTTL     = 2 * time.Second
	DefaultPollInterval    = 3 * time.Second
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
)

// Config holds application configuration.
type Config struct {
	DatabaseURL     string        `yaml:"database_url" env:"DATABASE_URL"`
	DatabaseSchema  string        `yaml:"database_schema" env:"DATABASE_SCHEMA"`
	ServerPort      string        `yaml:"server_port" env:"SERVER_PORT"`
	RedisURL        string        `yaml:"redis_url" env:"REDIS_URL"`
	YouTubeAPIKey   string        `yaml:"youtube_api_key" env:"YOUTUBE_API_KEY"`
	UserAgent       string        `yaml:"user_agent" env:"METADATA_USER_AGENT"`
	MetadataTimeout time.Duration `yaml:"metadata_timeout" env:"METADATA_TIMEOUT"`
	SnapshotTTL     time.Duration `yaml:"snapshot_ttl" env:"SNAPSHOT_TTL"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
	LogLevel        string        `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat       string        `yaml:"log_format" env:"LOG_FORMAT"`
}

// Default returns a Config with every optional value set.
func Default() Config {
	return Config{
		ServerPort:      DefaultServerPort,
		UserAgent:       DefaultUserAgent,
		MetadataTimeout: DefaultMetadataTimeout,
		SnapshotTTL:     DefaultSnapshotTTL,
		PollInterval:    DefaultPollInterval,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
	}
}

// Load builds config from environment variables.
// If DATABASE_URL is not set, Load tries to load .env.local and .env from the current directory.
// DATABASE_URL is required; everything else has a default.
func Load() (*Config, error) {
	if os.Getenv("DATABASE_URL") == "" {
		loadEnvFiles()
	}
	c := Default()
	c.DatabaseURL = os.Getenv("DATABASE_URL")
	c.DatabaseSchema = os.Getenv("DATABASE_SCHEMA")
	c.RedisURL = os.Getenv("REDIS_URL")
	c.YouTubeAPIKey = os.Getenv("YOUTUBE_API_KEY")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.UserAgent, "METADATA_USER_AGENT")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	for env, dst := range map[string]*time.Duration{
		"METADATA_TIMEOUT": &c.MetadataTimeout,
		"SNAPSHOT_TTL":     &c.SnapshotTTL,
		"POLL_INTERVAL":    &c.PollInterval,
	} {
		if err := setDuration(dst, env, os.Getenv(env)); err != nil {
			return nil, err
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks required values and bounds.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return ErrMissingDatabaseURL
	}
	if c.MetadataTimeout <= 0 {
		return fmt.Errorf("metadata_timeout must be positive, got %s", c.MetadataTimeout)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.SnapshotTTL < 0 {
		return fmt.Errorf("snapshot_ttl must not be negative, got %s", c.SnapshotTTL)
	}
	return nil
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, name, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = d
	return nil
}
