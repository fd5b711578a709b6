package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Grid.Namespace != "default" {
		t.Fatalf("namespace = %q", cfg.Grid.Namespace)
	}
	if !cfg.Logging.Console || cfg.Logging.Level != "info" {
		t.Fatalf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Watch.ApplyRatePerSec <= 0 {
		t.Fatal("expected a default apply rate")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
grid:
  namespace: tool-majavah
  tool: majavah-bot
  allowed_images:
    - tool-containers/*
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./state.db
  busy_timeout: 2s
status:
  enabled: true
  addr: 127.0.0.1:8941
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Grid.Namespace != "tool-majavah" || cfg.Grid.Tool != "majavah-bot" {
		t.Fatalf("grid config: %+v", cfg.Grid)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage config: %+v", cfg.Storage)
	}
	if !cfg.Status.Enabled {
		t.Fatal("status should be enabled")
	}
	// defaults survive partial files
	if cfg.Watch.Resync != "10m" {
		t.Fatalf("watch.resync = %q", cfg.Watch.Resync)
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", "grid:\n  namespac: oops\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{"empty namespace", func(c *Config) { c.Grid.Namespace = " " }, "grid.namespace"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad driver", func(c *Config) { c.Storage = &StorageConfig{Driver: "postgres"} }, "storage.driver"},
		{"bad duration", func(c *Config) { c.Watch.Resync = "soon" }, "watch.resync"},
		{"negative rate", func(c *Config) { c.Watch.ApplyRatePerSec = -1 }, "apply_rate_per_sec"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("want error containing %q, got %v", tt.wantSub, err)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 1m "); err != nil || d.String() != "1m0s" {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty should be zero: %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration should fail")
	}
}
