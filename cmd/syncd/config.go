// Daemon configuration, loaded from YAML over built-in defaults.
package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from YAML.
type Config struct {
	// DataDir holds the local cache database.
	DataDir string `yaml:"data_dir"`

	// Listen is the local address for the status/websocket server.
	Listen string `yaml:"listen"`

	Remote struct {
		BaseURL        string `yaml:"base_url"`
		Token          string `yaml:"token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"remote"`

	Sync struct {
		AutoIntervalSeconds  int `yaml:"auto_interval_seconds"`
		ProbeIntervalSeconds int `yaml:"probe_interval_seconds"`
		TombstoneGraceMs     int `yaml:"tombstone_grace_ms"`
	} `yaml:"sync"`

	Log struct {
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{
		DataDir: ".notabene",
		Listen:  "localhost:8794",
	}
	cfg.Remote.TimeoutSeconds = 30
	cfg.Sync.AutoIntervalSeconds = 30
	cfg.Sync.ProbeIntervalSeconds = 10
	cfg.Sync.TombstoneGraceMs = 5000
	cfg.Log.Level = "info"
	cfg.Log.MaxSizeMB = 10
	cfg.Log.MaxBackups = 3
	return cfg
}

// LoadConfig reads a YAML config file over the defaults. A missing path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Sync.AutoIntervalSeconds <= 0 {
		return fmt.Errorf("sync.auto_interval_seconds must be positive")
	}
	if c.Sync.ProbeIntervalSeconds <= 0 {
		return fmt.Errorf("sync.probe_interval_seconds must be positive")
	}
	if c.Sync.TombstoneGraceMs <= 0 {
		return fmt.Errorf("sync.tombstone_grace_ms must be positive")
	}
	return nil
}

// AutoInterval returns the auto-sync interval as a duration.
func (c *Config) AutoInterval() time.Duration {
	return time.Duration(c.Sync.AutoIntervalSeconds) * time.Second
}

// ProbeInterval returns the connectivity probe interval as a duration.
func (c *Config) ProbeInterval() time.Duration {
	return time.Duration(c.Sync.ProbeIntervalSeconds) * time.Second
}

// TombstoneGrace returns the tombstone grace window as a duration.
func (c *Config) TombstoneGrace() time.Duration {
	return time.Duration(c.Sync.TombstoneGraceMs) * time.Millisecond
}

// RemoteTimeout returns the per-request backend timeout.
func (c *Config) RemoteTimeout() time.Duration {
	return time.Duration(c.Remote.TimeoutSeconds) * time.Second
}
