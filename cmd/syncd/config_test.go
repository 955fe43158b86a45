package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// TestLoadConfig_missing verifies a missing file yields the defaults.
func TestLoadConfig_missing(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Listen != "localhost:8794" {
		t.Errorf("default listen = %q", cfg.Listen)
	}
	if cfg.Sync.TombstoneGraceMs != 5000 {
		t.Errorf("default tombstone grace = %d, want 5000", cfg.Sync.TombstoneGraceMs)
	}
}

// TestLoadConfig_overrides verifies YAML values override defaults while
// unset keys keep them.
func TestLoadConfig_overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncd.yaml")
	content := `
data_dir: /tmp/nb
remote:
  base_url: https://api.example.com
  token: secret
sync:
  auto_interval_seconds: 60
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DataDir != "/tmp/nb" {
		t.Errorf("data_dir = %q", cfg.DataDir)
	}
	if cfg.Remote.BaseURL != "https://api.example.com" || cfg.Remote.Token != "secret" {
		t.Errorf("remote = %+v", cfg.Remote)
	}
	if cfg.Sync.AutoIntervalSeconds != 60 {
		t.Errorf("auto interval = %d, want 60", cfg.Sync.AutoIntervalSeconds)
	}
	if cfg.Sync.ProbeIntervalSeconds != 10 {
		t.Errorf("probe interval = %d, want default 10", cfg.Sync.ProbeIntervalSeconds)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q", cfg.Log.Level)
	}

	if cfg.AutoInterval() != time.Minute {
		t.Errorf("AutoInterval() = %v, want 1m", cfg.AutoInterval())
	}
	if cfg.TombstoneGrace() != 5*time.Second {
		t.Errorf("TombstoneGrace() = %v, want 5s", cfg.TombstoneGrace())
	}
}

// TestLoadConfig_invalid verifies validation failures reject the file.
func TestLoadConfig_invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty data_dir", content: "data_dir: \"\""},
		{name: "non-positive interval", content: "sync:\n  auto_interval_seconds: 0"},
		{name: "non-positive grace", content: "sync:\n  tombstone_grace_ms: -1"},
		{name: "malformed yaml", content: "data_dir: [unterminated"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "syncd.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			if _, err := LoadConfig(path); err == nil {
				t.Errorf("LoadConfig() accepted invalid config")
			}
		})
	}
}
