package syncer

import (
	"context"
	"fmt"
	"time"

	"jobgrid/internal/jobfile"
	logx "jobgrid/pkg/logx"
	"jobgrid/pkg/sdnotify"
)

// Daemon keeps the grid converged with the jobs file: one apply at startup,
// an apply for every validated file change, and a periodic resync to repair
// drift caused by objects deleted behind our back.
type Daemon struct {
	Manager *jobfile.Manager
	Syncer  *Syncer
	Log     logx.Logger

	Resync   time.Duration
	SdNotify bool
}

// Run blocks until ctx is canceled or the file watcher fails permanently.
func (d *Daemon) Run(ctx context.Context) error {
	log := d.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	sub := d.Manager.Subscribe(4)
	defer d.Manager.Unsubscribe(sub)

	watchDone := make(chan error, 1)
	go func() { watchDone <- d.Manager.Watch(ctx) }()

	if d.SdNotify {
		sdnotify.Ready()
		go sdnotify.Watchdog(ctx)
		defer sdnotify.Stopping()
	}

	d.applyOnce(ctx, log, d.Manager.Get())

	var tick <-chan time.Time
	if d.Resync > 0 {
		t := time.NewTicker(d.Resync)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchDone:
			return err
		case specs, ok := <-sub:
			if !ok {
				return nil
			}
			d.applyOnce(ctx, log, specs)
		case <-tick:
			d.applyOnce(ctx, log, d.Manager.Get())
		}
	}
}

func (d *Daemon) applyOnce(ctx context.Context, log logx.Logger, specs []jobfile.Spec) {
	if specs == nil {
		return
	}
	res, err := d.Syncer.Apply(ctx, specs)
	if err != nil {
		log.Warn("sync pass finished with errors",
			logx.Int("failed", res.Failed), logx.Err(err))
	} else if res.Changed() > 0 {
		log.Info("sync pass applied",
			logx.Int("created", res.Created),
			logx.Int("updated", res.Updated),
			logx.Int("deleted", res.Deleted),
			logx.Int("unchanged", res.Unchanged),
		)
	} else {
		log.Debug("sync pass idle", logx.Int("jobs", len(specs)))
	}
	if err := d.Syncer.CompleteRuns(ctx); err != nil {
		log.Warn("run completion sweep failed", logx.Err(err))
	}
	if d.SdNotify {
		sdnotify.Status(fmt.Sprintf("%d jobs, last sync %s", len(specs), time.Now().Format(time.RFC3339)))
	}
}
