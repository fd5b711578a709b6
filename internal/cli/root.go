// Package cli wires the jobgrid commands. Everything the tool can do goes
// through here; the status API is read-only on purpose.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"jobgrid/internal/config"
	"jobgrid/internal/grid"
	"jobgrid/internal/jobfile"
	"jobgrid/internal/storage"
	logx "jobgrid/pkg/logx"
)

// App carries the state shared by all subcommands: parsed flags, the
// effective config, and lazily opened handles.
type App struct {
	configPath string
	jobsPath   string
	output     string

	cfg    *config.Config
	logSvc *logx.Service
	log    logx.Logger

	// newBackend is swappable so tests can inject a fake grid.
	newBackend func(cfg *config.Config, log logx.Logger) (grid.Backend, error)
}

func defaultBackend(cfg *config.Config, log logx.Logger) (grid.Backend, error) {
	return grid.NewFromKubeconfig(cfg.Grid.Kubeconfig, cfg.Grid.Namespace, cfg.Grid.Tool, log)
}

// New builds the root command tree.
func New() *cobra.Command {
	return newRoot(&App{newBackend: defaultBackend})
}

func newRoot(app *App) *cobra.Command {
	if app.newBackend == nil {
		app.newBackend = defaultBackend
	}

	root := &cobra.Command{
		Use:           "jobgrid",
		Short:         "Manage grid jobs from a declarative jobs file",
		Long:          "jobgrid keeps a Kubernetes job grid converged with a declarative jobs file:\nscheduled jobs become CronJobs, continuous jobs become Deployments, and\neverything else runs once as a Job.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return app.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			app.close()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&app.configPath, "config", "", "tool config file (YAML or JSON)")
	pf.StringVar(&app.jobsPath, "jobs", "jobs.yaml", "jobs file path")
	pf.StringVarP(&app.output, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		app.validateCmd(),
		app.listCmd(),
		app.showCmd(),
		app.diffCmd(),
		app.loadCmd(),
		app.deleteCmd(),
		app.flushCmd(),
		app.runCmd(),
		app.restartCmd(),
		app.logsCmd(),
		app.imagesCmd(),
		app.serveCmd(),
	)
	return root
}

// Execute runs the CLI with signal-aware context and returns the exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := New().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "jobgrid:", err)
		return 1
	}
	return 0
}

func (a *App) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg

	switch a.output {
	case "text", "json":
	default:
		return fmt.Errorf("unknown output format %q", a.output)
	}

	if cmd.Name() == "serve" {
		a.logSvc, a.log = logx.New(logx.Config{
			Level:   cfg.Logging.Level,
			Console: cfg.Logging.Console,
			File: logx.FileConfig{
				Enabled: cfg.Logging.File.Enabled,
				Path:    cfg.Logging.File.Path,
			},
		})
	} else {
		// one-shot commands log to the console only, at warn unless the
		// config raises verbosity
		a.log = logx.NewConsole(cfg.Logging.Level)
	}
	return nil
}

func (a *App) close() {
	if a.logSvc != nil {
		_ = a.logSvc.Close()
		a.logSvc = nil
	}
}

func (a *App) manager() *jobfile.Manager {
	m := jobfile.NewManager(a.jobsPath)
	m.SetLogger(a.log)
	m.SetValidator(func(_ context.Context, specs []jobfile.Spec) error {
		return jobfile.Validate(specs, a.validateOptions())
	})
	return m
}

func (a *App) validateOptions() jobfile.ValidateOptions {
	return jobfile.ValidateOptions{AllowedImages: a.cfg.Grid.AllowedImages}
}

// loadSpecs parses and validates the jobs file.
func (a *App) loadSpecs() ([]jobfile.Spec, error) {
	specs, err := jobfile.ParseFile(a.jobsPath)
	if err != nil {
		return nil, err
	}
	if err := jobfile.Validate(specs, a.validateOptions()); err != nil {
		return nil, err
	}
	return specs, nil
}

func (a *App) backend() (grid.Backend, error) {
	return a.newBackend(a.cfg, a.log)
}

// openStore returns the configured store, or nil when storage is disabled.
func (a *App) openStore() (storage.Store, error) {
	if a.cfg.Storage == nil {
		return nil, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", a.cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      a.cfg.Storage.Driver,
		Path:        a.cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log)
}
