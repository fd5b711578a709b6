package config

// Config is the tool configuration (not the jobs file; that one is owned
// by the jobfile package and hot-reloaded separately).
type Config struct {
	Grid    GridConfig     `json:"grid"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Status  StatusConfig   `json:"status,omitempty"`
	Watch   WatchConfig    `json:"watch,omitempty"`
	Pprof   PprofConfig    `json:"pprof,omitempty"`
}

// GridConfig selects the cluster and namespace the jobs are applied to.
type GridConfig struct {
	// Kubeconfig path. Empty means in-cluster config, then $KUBECONFIG,
	// then ~/.kube/config.
	Kubeconfig string `json:"kubeconfig,omitempty"`
	Namespace  string `json:"namespace"`

	// Tool is the tool account name stamped on every managed object.
	Tool string `json:"tool"`

	// AllowedImages restricts the jobs file image field. Entries may end
	// with "*" for a prefix match. Empty disables the check.
	AllowedImages []string `json:"allowed_images,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./jobgrid.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// StatusConfig controls the read-only status HTTP API.
type StatusConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default: "127.0.0.1:8941"

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// HistoryLimit caps the rows returned by the history endpoint.
	HistoryLimit int `json:"history_limit,omitempty"`
}

// WatchConfig controls the reconcile daemon.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type WatchConfig struct {
	// Resync forces a full reconcile even without file changes.
	// "0s" disables periodic resync.
	Resync string `json:"resync,omitempty"`

	// ApplyRatePerSec / ApplyBurst bound grid API mutations per second.
	ApplyRatePerSec int `json:"apply_rate_per_sec,omitempty"`
	ApplyBurst      int `json:"apply_burst,omitempty"`

	// SdNotify enables systemd readiness/watchdog notifications.
	SdNotify bool `json:"sd_notify,omitempty"`
}

// PprofConfig controls the optional pprof HTTP server.
//
// Security note: prefer binding to localhost (e.g. "127.0.0.1:6060").
type PprofConfig struct {
	Enabled              bool   `json:"enabled"`
	Addr                 string `json:"addr,omitempty"` // default: "127.0.0.1:6060"
	BlockProfileRate     int    `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int    `json:"mutex_profile_fraction,omitempty"`
}
