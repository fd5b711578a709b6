package storage

import (
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("not found")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// JobState is the last applied state of one managed job.
type JobState struct {
	Name      string
	Kind      string // scheduled | continuous | one-off
	SpecHash  string
	Phase     string // applied | deleted
	UpdatedAt time.Time
}

// AuditEntry records one grid mutation performed by a sync or CLI action.
// Keep it compact and schema-stable.
type AuditEntry struct {
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
	Action string    `json:"action"` // create | update | delete | trigger | restart | flush
	Job    string    `json:"job"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}

// Run statuses, mirroring what the status API reports.
const (
	RunStatusRunning = "running"
	RunStatusDone    = "done"
	RunStatusFail    = "fail"
)

// Run is one tracked execution of a job (one-off loads and manual triggers).
type Run struct {
	ID        string    `json:"id"`
	Job       string    `json:"job"`
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitzero"`
	Detail    string    `json:"detail,omitempty"`
}
