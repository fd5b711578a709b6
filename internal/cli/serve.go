package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"jobgrid/internal/config"
	"jobgrid/internal/debug"
	"jobgrid/internal/jobfile"
	"jobgrid/internal/status"
	"jobgrid/internal/syncer"
	logx "jobgrid/pkg/logx"
)

func (a *App) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconcile daemon: watch the jobs file, keep the grid converged",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.serve(cmd.Context())
		},
	}
}

func (a *App) serve(ctx context.Context) error {
	log := a.log
	log.Info("jobgrid starting", a.cfg.Summary()...)

	mgr := a.manager()
	specs, err := mgr.Parse()
	if err != nil {
		return err
	}
	if err := jobfile.Validate(specs, a.validateOptions()); err != nil {
		return err
	}
	mgr.Commit(specs)
	log.Info("jobs file loaded", logx.String("path", a.jobsPath), logx.Int("jobs", len(specs)))

	backend, err := a.backend()
	if err != nil {
		return err
	}
	store, err := a.openStore()
	if err != nil {
		return err
	}
	if store != nil {
		defer store.Close()
	}

	resync, err := config.ParseDurationField("watch.resync", a.cfg.Watch.Resync)
	if err != nil {
		return err
	}

	pprofSrv := debug.NewServer(log)
	pprofSrv.Apply(ctx, debug.Config{
		Enabled:              a.cfg.Pprof.Enabled,
		Addr:                 a.cfg.Pprof.Addr,
		BlockProfileRate:     a.cfg.Pprof.BlockProfileRate,
		MutexProfileFraction: a.cfg.Pprof.MutexProfileFraction,
	})
	defer pprofSrv.Stop(context.Background())

	daemon := &syncer.Daemon{
		Manager: mgr,
		Syncer: syncer.New(backend, store, log, syncer.Options{
			RatePerSec: float64(a.cfg.Watch.ApplyRatePerSec),
			Burst:      a.cfg.Watch.ApplyBurst,
			Prune:      true,
		}),
		Log:      log,
		Resync:   resync,
		SdNotify: a.cfg.Watch.SdNotify,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- daemon.Run(ctx) }()

	if a.cfg.Status.Enabled {
		opts, err := a.statusOptions()
		if err != nil {
			return err
		}
		srv := status.NewServer(mgr, backend, store, log, opts)
		go func() { errCh <- srv.Run(ctx) }()
	}

	select {
	case <-ctx.Done():
		log.Info("jobgrid stopping")
		// give the servers a moment to drain
		select {
		case err := <-errCh:
			return err
		case <-time.After(5 * time.Second):
			return nil
		}
	case err := <-errCh:
		return err
	}
}

func (a *App) statusOptions() (status.Options, error) {
	var opts status.Options
	var err error
	opts.Addr = a.cfg.Status.Addr
	opts.HistoryLimit = a.cfg.Status.HistoryLimit
	if opts.ReadTimeout, err = config.ParseDurationField("status.read_timeout", a.cfg.Status.ReadTimeout); err != nil {
		return opts, err
	}
	if opts.WriteTimeout, err = config.ParseDurationField("status.write_timeout", a.cfg.Status.WriteTimeout); err != nil {
		return opts, err
	}
	if opts.IdleTimeout, err = config.ParseDurationField("status.idle_timeout", a.cfg.Status.IdleTimeout); err != nil {
		return opts, err
	}
	return opts, nil
}
