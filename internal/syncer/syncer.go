// Package syncer converges the grid onto the jobs file: it diffs the
// desired specs against the live objects and applies the difference,
// rate-limited so a large file doesn't hammer the API server.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"jobgrid/internal/grid"
	"jobgrid/internal/jobfile"
	"jobgrid/internal/storage"
	logx "jobgrid/pkg/logx"
)

type Options struct {
	// RatePerSec and Burst bound grid API writes during an apply.
	RatePerSec float64
	Burst      int
	// Prune removes managed grid objects that are absent from the file.
	Prune bool
}

type Syncer struct {
	backend grid.Backend
	store   storage.Store // nil when storage is disabled
	log     logx.Logger
	limiter *rate.Limiter
	prune   bool
}

func New(backend grid.Backend, store storage.Store, log logx.Logger, opts Options) *Syncer {
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 5
	}
	if opts.Burst <= 0 {
		opts.Burst = 10
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Syncer{
		backend: backend,
		store:   store,
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		prune:   opts.Prune,
	}
}

// Result summarizes one apply pass.
type Result struct {
	Created   int
	Updated   int
	Unchanged int
	Deleted   int
	Failed    int
}

func (r Result) Changed() int { return r.Created + r.Updated + r.Deleted }

// Apply reconciles the grid with specs. Individual job failures don't abort
// the pass; they are joined into the returned error after everything else
// has been attempted.
func (s *Syncer) Apply(ctx context.Context, specs []jobfile.Spec) (Result, error) {
	live, err := s.backend.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list grid: %w", err)
	}
	d := Compute(specs, live)

	var res Result
	res.Unchanged = len(d.Unchanged)
	var errs []error

	applyOne := func(spec jobfile.Spec, verb string) {
		if err := s.limiter.Wait(ctx); err != nil {
			errs = append(errs, err)
			return
		}
		start := time.Now()
		action, err := s.backend.Apply(ctx, spec)
		s.audit(ctx, verb, spec.Name, start, err)
		if err != nil {
			res.Failed++
			errs = append(errs, fmt.Errorf("%s %s: %w", verb, spec.Name, err))
			s.log.Warn("job apply failed", logx.String("job", spec.Name), logx.Err(err))
			return
		}
		switch action {
		case grid.ActionCreated:
			res.Created++
		case grid.ActionUpdated:
			res.Updated++
		default:
			res.Unchanged++
		}
		s.recordState(ctx, spec)
	}

	for _, spec := range d.Create {
		applyOne(spec, "create")
	}
	for _, spec := range d.Update {
		applyOne(spec, "update")
	}

	if s.prune {
		for _, lj := range d.Orphans {
			if err := s.limiter.Wait(ctx); err != nil {
				errs = append(errs, err)
				break
			}
			start := time.Now()
			err := s.backend.Delete(ctx, lj.Name)
			s.audit(ctx, "delete", lj.Name, start, err)
			if err != nil && !errors.Is(err, grid.ErrNotFound) {
				res.Failed++
				errs = append(errs, fmt.Errorf("delete %s: %w", lj.Name, err))
				continue
			}
			res.Deleted++
			if s.store != nil {
				if derr := s.store.DeleteJobState(ctx, lj.Name); derr != nil {
					s.log.Warn("job state delete failed", logx.String("job", lj.Name), logx.Err(derr))
				}
			}
		}
	}

	return res, errors.Join(errs...)
}

// CompleteRuns closes out run-history rows whose grid objects have reached
// a terminal phase. Manual triggers insert a running row when submitted;
// the daemon sweeps on every pass so history never reports finished runs
// as running.
func (s *Syncer) CompleteRuns(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	runs, err := s.store.RecentRuns(ctx, "", 200)
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range runs {
		if r.Status != storage.RunStatusRunning {
			continue
		}
		phase, err := s.backend.RunPhase(ctx, r.ID)
		var status, detail string
		switch {
		case errors.Is(err, grid.ErrNotFound):
			// object was removed before we saw it finish
			status, detail = storage.RunStatusFail, "run object missing"
		case err != nil:
			errs = append(errs, err)
			continue
		case phase == grid.PhaseOK:
			status = storage.RunStatusDone
		case phase == grid.PhaseFailed:
			status = storage.RunStatusFail
		default:
			continue // still running
		}
		if ferr := s.store.FinishRun(ctx, r.ID, status, detail, time.Now()); ferr != nil && !errors.Is(ferr, storage.ErrNotFound) {
			errs = append(errs, ferr)
			continue
		}
		s.log.Info("run finished",
			logx.String("job", r.Job), logx.String("run", r.ID), logx.String("status", status))
	}
	return errors.Join(errs...)
}

func (s *Syncer) audit(ctx context.Context, action, job string, start time.Time, opErr error) {
	if s.store == nil {
		return
	}
	e := storage.AuditEntry{
		ID:     uuid.NewString(),
		At:     start,
		Action: action,
		Job:    job,
		OK:     opErr == nil,
		TookMS: time.Since(start).Milliseconds(),
	}
	if opErr != nil {
		e.Error = opErr.Error()
	}
	if err := s.store.AppendAudit(ctx, e); err != nil {
		s.log.Warn("audit write failed", logx.String("job", job), logx.Err(err))
	}
}

func (s *Syncer) recordState(ctx context.Context, spec jobfile.Spec) {
	if s.store == nil {
		return
	}
	st := storage.JobState{
		Name:     spec.Name,
		Kind:     string(spec.Kind()),
		SpecHash: jobfile.Hash(spec),
		Phase:    "applied",
	}
	if err := s.store.UpsertJobState(ctx, st); err != nil {
		s.log.Warn("job state write failed", logx.String("job", spec.Name), logx.Err(err))
	}
}
