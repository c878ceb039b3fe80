package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type fileConfig struct {
	DatabaseURL     string `yaml:"database_url" toml:"database_url"`
	DatabaseSchema  string `yaml:"database_schema" toml:"database_schema"`
	ServerPort      string `yaml:"server_port" toml:"server_port"`
	RedisURL        string `yaml:"redis_url" toml:"redis_url"`
	YouTubeAPIKey   string `yaml:"youtube_api_key" toml:"youtube_api_key"`
	UserAgent       string `yaml:"user_agent" toml:"user_agent"`
	MetadataTimeout string `yaml:"metadata_timeout" toml:"metadata_timeout"`
	SnapshotTTL     string `yaml:"snapshot_ttl" toml:"snapshot_ttl"`
	PollInterval    string `yaml:"poll_interval" toml:"poll_interval"`
	LogLevel        string `yaml:"log_level" toml:"log_level"`
	LogFormat       string `yaml:"log_format" toml:"log_format"`
}

// LoadFromFile loads config from a YAML (.yaml, .yml) or TOML (.toml) file.
// database_url is required.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := yaml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	c := Default()
	c.DatabaseURL = f.DatabaseURL
	c.DatabaseSchema = f.DatabaseSchema
	c.RedisURL = f.RedisURL
	c.YouTubeAPIKey = f.YouTubeAPIKey
	for _, kv := range []struct {
		dst *string
		v   string
	}{
		{&c.ServerPort, f.ServerPort},
		{&c.UserAgent, f.UserAgent},
		{&c.LogLevel, f.LogLevel},
		{&c.LogFormat, f.LogFormat},
	} {
		if kv.v != "" {
			*kv.dst = kv.v
		}
	}
	if err := setDuration(&c.MetadataTimeout, "metadata_timeout", f.MetadataTimeout); err != nil {
		return nil, err
	}
	if err := setDuration(&c.SnapshotTTL, "snapshot_ttl", f.SnapshotTTL); err != nil {
		return nil, err
	}
	if err := setDuration(&c.PollInterval, "poll_interval", f.PollInterval); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
