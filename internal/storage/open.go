package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "jobgrid/pkg/logx"
)

// Store is the minimal persistence API used by the syncer, CLI, and status API.
type Store interface {
	UpsertJobState(ctx context.Context, s JobState) error
	ListJobStates(ctx context.Context) ([]JobState, error)
	DeleteJobState(ctx context.Context, name string) error

	AppendAudit(ctx context.Context, e AuditEntry) error
	RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error)

	StartRun(ctx context.Context, r Run) error
	FinishRun(ctx context.Context, runID, status, detail string, endedAt time.Time) error
	RecentRuns(ctx context.Context, job string, limit int) ([]Run, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
