package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	logx "jobgrid/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// timeFormat is fixed width (no trimming of fractional zeros) so the TEXT
// columns sort chronologically under lexicographic ORDER BY.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger

	opCount    atomic.Uint64
	pruneEvery uint64
	keepRuns   int
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log, pruneEvery: 500, keepRuns: 1000}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) UpsertJobState(ctx context.Context, st JobState) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_state(name, kind, spec_hash, phase, updated_at)
		 VALUES(?,?,?,?,?)
		 ON CONFLICT(name) DO UPDATE SET
		   kind=excluded.kind, spec_hash=excluded.spec_hash,
		   phase=excluded.phase, updated_at=excluded.updated_at`,
		st.Name, st.Kind, st.SpecHash, st.Phase, st.UpdatedAt.Format(timeFormat),
	)
	return err
}

func (s *sqliteStore) ListJobStates(ctx context.Context) ([]JobState, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, kind, spec_hash, phase, updated_at FROM job_state ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []JobState
	for rows.Next() {
		var st JobState
		var ts string
		if err := rows.Scan(&st.Name, &st.Kind, &st.SpecHash, &st.Phase, &ts); err != nil {
			return nil, err
		}
		st.UpdatedAt, _ = time.Parse(timeFormat, ts)
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteJobState(ctx context.Context, name string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM job_state WHERE name = ?`, name)
	return err
}

func (s *sqliteStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit(id, at, action, job, ok, err, took_ms) VALUES(?,?,?,?,?,?,?)`,
		e.ID, e.At.Format(timeFormat), e.Action, e.Job, boolInt(e.OK), nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) RecentAudit(ctx context.Context, limit int) ([]AuditEntry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, at, action, job, ok, err, took_ms FROM audit ORDER BY at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts string
		var ok int
		var errStr sql.NullString
		if err := rows.Scan(&e.ID, &ts, &e.Action, &e.Job, &ok, &errStr, &e.TookMS); err != nil {
			return nil, err
		}
		e.At, _ = time.Parse(timeFormat, ts)
		e.OK = ok != 0
		e.Error = errStr.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) StartRun(ctx context.Context, r Run) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.Status == "" {
		r.Status = RunStatusRunning
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs(id, job, status, started_at, ended_at, detail) VALUES(?,?,?,?,NULL,?)`,
		r.ID, r.Job, r.Status, r.StartedAt.Format(timeFormat), nullStr(r.Detail),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneRuns(pctx)
		cancel()
	}
	return err
}

func (s *sqliteStore) FinishRun(ctx context.Context, runID, status, detail string, endedAt time.Time) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if endedAt.IsZero() {
		endedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, ended_at = ?, detail = ? WHERE id = ?`,
		status, endedAt.Format(timeFormat), nullStr(detail), runID,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) RecentRuns(ctx context.Context, job string, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, job, status, started_at, ended_at, detail FROM runs`
	args := []any{}
	if strings.TrimSpace(job) != "" {
		query += ` WHERE job = ?`
		args = append(args, job)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started string
		var ended, detail sql.NullString
		if err := rows.Scan(&r.ID, &r.Job, &r.Status, &started, &ended, &detail); err != nil {
			return nil, err
		}
		r.StartedAt, _ = time.Parse(timeFormat, started)
		if ended.Valid {
			r.EndedAt, _ = time.Parse(timeFormat, ended.String)
		}
		r.Detail = detail.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// pruneRuns keeps the runs table bounded; history beyond keepRuns rows is
// only interesting to the grid's own log retention anyway.
func (s *sqliteStore) pruneRuns(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)`,
		s.keepRuns,
	)
	return err
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
