package config

import (
	"fmt"
	"os"
	"strings"

	"jobgrid/internal/strictyaml"
	logx "jobgrid/pkg/logx"
)

// Default returns the configuration used when no config file is given:
// console logging, no persistence, status API off.
func Default() *Config {
	return &Config{
		Grid: GridConfig{
			Namespace: "default",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
		Watch: WatchConfig{
			Resync:          "10m",
			ApplyRatePerSec: 5,
			ApplyBurst:      10,
		},
	}
}

// Load reads and strictly decodes a config file (YAML or JSON), layered
// over Default(). An empty path returns defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := strictyaml.Decode(path, b, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field-level sanity. Durations are parsed here so later
// consumers can assume they are well formed.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Grid.Namespace) == "" {
		return fmt.Errorf("grid.namespace is required")
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}

	if c.Storage != nil {
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "", "none", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver)
		}
		if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	for _, d := range []struct{ path, raw string }{
		{"status.read_timeout", c.Status.ReadTimeout},
		{"status.write_timeout", c.Status.WriteTimeout},
		{"status.idle_timeout", c.Status.IdleTimeout},
		{"watch.resync", c.Watch.Resync},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}

	if c.Watch.ApplyRatePerSec < 0 {
		return fmt.Errorf("watch.apply_rate_per_sec must be >= 0")
	}
	if c.Watch.ApplyBurst < 0 {
		return fmt.Errorf("watch.apply_burst must be >= 0")
	}
	if c.Status.HistoryLimit < 0 {
		return fmt.Errorf("status.history_limit must be >= 0")
	}
	return nil
}

// Summary returns safe structured attrs describing the effective config
// for startup logging (never includes credentials or full paths to them).
func (c *Config) Summary() []logx.Field {
	attrs := []logx.Field{
		logx.String("grid.namespace", c.Grid.Namespace),
		logx.String("grid.tool", c.Grid.Tool),
		logx.Bool("grid.kubeconfig_set", strings.TrimSpace(c.Grid.Kubeconfig) != ""),
		logx.Int("grid.allowed_images", len(c.Grid.AllowedImages)),
		logx.String("logging.level", c.Logging.Level),
		logx.Bool("logging.file", c.Logging.File.Enabled),
		logx.Bool("status.enabled", c.Status.Enabled),
		logx.Bool("pprof.enabled", c.Pprof.Enabled),
	}
	if c.Storage != nil {
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(c.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(c.Storage.Path) != ""),
		)
	}
	return attrs
}
