package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "jobgrid/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("disabled storage should be (nil, nil), got (%v, %v)", st, err)
	}
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("unknown driver should fail")
	}
}

func TestJobStateRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.UpsertJobState(ctx, JobState{Name: "a", Kind: "scheduled", SpecHash: "h1", Phase: "applied"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// upsert replaces
	if err := st.UpsertJobState(ctx, JobState{Name: "a", Kind: "scheduled", SpecHash: "h2", Phase: "applied"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := st.UpsertJobState(ctx, JobState{Name: "b", Kind: "continuous", SpecHash: "h3", Phase: "applied"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	states, err := st.ListJobStates(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("got %d states", len(states))
	}
	if states[0].Name != "a" || states[0].SpecHash != "h2" {
		t.Fatalf("unexpected first state: %+v", states[0])
	}

	if err := st.DeleteJobState(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	states, _ = st.ListJobStates(ctx)
	if len(states) != 1 || states[0].Name != "b" {
		t.Fatalf("after delete: %+v", states)
	}
}

func TestAuditAppendAndList(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i, action := range []string{"create", "update", "delete"} {
		e := AuditEntry{
			ID:     action + "-id",
			At:     base.Add(time.Duration(i) * time.Second),
			Action: action,
			Job:    "daily-report",
			OK:     action != "delete",
			TookMS: 12,
		}
		if action == "delete" {
			e.Error = "boom"
		}
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := st.RecentAudit(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries", len(entries))
	}
	// newest first
	if entries[0].Action != "delete" || entries[0].OK || entries[0].Error != "boom" {
		t.Fatalf("unexpected newest entry: %+v", entries[0])
	}
}

func TestRunOrderingSubSecond(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	// a whole-second timestamp must not sort after a fractional one
	base := time.Date(2026, 8, 27, 3, 4, 5, 0, time.UTC)
	if err := st.StartRun(ctx, Run{ID: "whole", Job: "j", StartedAt: base}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := st.StartRun(ctx, Run{ID: "frac", Job: "j", StartedAt: base.Add(500 * time.Millisecond)}); err != nil {
		t.Fatalf("start: %v", err)
	}

	runs, err := st.RecentRuns(ctx, "j", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "frac" || runs[1].ID != "whole" {
		t.Fatalf("wrong order: %+v", runs)
	}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.StartRun(ctx, Run{ID: "r1", Job: "once"}); err != nil {
		t.Fatalf("start: %v", err)
	}
	runs, err := st.RecentRuns(ctx, "once", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != RunStatusRunning || !runs[0].EndedAt.IsZero() {
		t.Fatalf("unexpected running row: %+v", runs)
	}

	if err := st.FinishRun(ctx, "r1", RunStatusDone, "exit 0", time.Now()); err != nil {
		t.Fatalf("finish: %v", err)
	}
	runs, _ = st.RecentRuns(ctx, "once", 10)
	if runs[0].Status != RunStatusDone || runs[0].EndedAt.IsZero() || runs[0].Detail != "exit 0" {
		t.Fatalf("unexpected finished row: %+v", runs[0])
	}

	if err := st.FinishRun(ctx, "missing", RunStatusFail, "", time.Now()); err != ErrNotFound {
		t.Fatalf("want ErrNotFound, got %v", err)
	}

	// filter by job
	_ = st.StartRun(ctx, Run{ID: "r2", Job: "other"})
	runs, _ = st.RecentRuns(ctx, "once", 10)
	if len(runs) != 1 {
		t.Fatalf("filter leaked rows: %+v", runs)
	}
}
