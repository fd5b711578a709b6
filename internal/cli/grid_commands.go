package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"jobgrid/internal/grid"
	"jobgrid/internal/jobfile"
	"jobgrid/internal/storage"
	"jobgrid/internal/syncer"
	logx "jobgrid/pkg/logx"
)

func (a *App) loadCmd() *cobra.Command {
	var prune bool
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Apply the jobs file to the grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			specs, err := a.loadSpecs()
			if err != nil {
				return err
			}
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

			s := syncer.New(backend, store, a.log, syncer.Options{
				RatePerSec: float64(a.cfg.Watch.ApplyRatePerSec),
				Burst:      a.cfg.Watch.ApplyBurst,
				Prune:      prune,
			})
			res, err := s.Apply(cmd.Context(), specs)
			out := cmd.OutOrStdout()
			if a.output == "json" {
				if jerr := a.printJSON(out, res); jerr != nil {
					return jerr
				}
			} else {
				fmt.Fprintf(out, "created %d, updated %d, deleted %d, unchanged %d\n",
					res.Created, res.Updated, res.Deleted, res.Unchanged)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&prune, "prune", true, "delete managed grid jobs that are not in the file")
	return cmd
}

func (a *App) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <job>...",
		Short: "Remove jobs from the grid (the file is left alone)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			for _, name := range args {
				if err := backend.Delete(cmd.Context(), name); err != nil {
					return err
				}
				if store != nil {
					_ = store.DeleteJobState(cmd.Context(), name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", name)
			}
			return nil
		},
	}
}

func (a *App) flushCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "flush",
		Short: "Remove every managed job from the grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("flush removes every managed job; re-run with --yes")
			}
			backend, err := a.backend()
			if err != nil {
				return err
			}
			n, err := backend.DeleteAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d jobs\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the flush")
	return cmd
}

func (a *App) runCmd() *cobra.Command {
	var wait bool
	var waitTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "run <job>",
		Short: "Trigger a one-off run of a job from the file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := a.loadSpecs()
			if err != nil {
				return err
			}
			var spec *jobfile.Spec
			for i := range specs {
				if specs[i].Name == args[0] {
					spec = &specs[i]
					break
				}
			}
			if spec == nil {
				return fmt.Errorf("no job named %q in %s", args[0], a.jobsPath)
			}

			backend, err := a.backend()
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				a.log.Warn("storage unavailable; run will not be recorded", logx.Err(err))
			}
			if store != nil {
				defer store.Close()
			}

			objectName, err := backend.TriggerRun(cmd.Context(), *spec)
			if err != nil {
				return err
			}
			if store != nil {
				if serr := store.StartRun(cmd.Context(), storage.Run{
					ID:        objectName,
					Job:       spec.Name,
					Status:    storage.RunStatusRunning,
					StartedAt: time.Now(),
					Detail:    "manual trigger",
				}); serr != nil {
					a.log.Warn("run record write failed", logx.Err(serr))
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "submitted %s\n", objectName)
			if !wait {
				return nil
			}

			status, err := waitForRun(cmd.Context(), backend, objectName, waitTimeout)
			if err != nil {
				return err
			}
			if store != nil {
				if ferr := store.FinishRun(cmd.Context(), objectName, status, "", time.Now()); ferr != nil {
					a.log.Warn("run record finish failed", logx.Err(ferr))
				}
			}
			fmt.Fprintf(out, "run finished: %s\n", status)
			if status == storage.RunStatusFail {
				return fmt.Errorf("run %s failed", objectName)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the run to finish and record its outcome")
	cmd.Flags().DurationVar(&waitTimeout, "wait-timeout", 10*time.Minute, "how long --wait polls before giving up")
	return cmd
}

// waitForRun polls the triggered object until it reaches a terminal phase.
func waitForRun(ctx context.Context, backend grid.Backend, objectName string, timeout time.Duration) (string, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(2 * time.Second)
	defer tick.Stop()

	for {
		phase, err := backend.RunPhase(ctx, objectName)
		if err != nil {
			return "", err
		}
		switch phase {
		case grid.PhaseOK:
			return storage.RunStatusDone, nil
		case grid.PhaseFailed:
			return storage.RunStatusFail, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("timed out after %s waiting for %s", timeout, objectName)
		case <-tick.C:
		}
	}
}

func (a *App) restartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restart <job>",
		Short: "Restart a continuous job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.backend()
			if err != nil {
				return err
			}
			if err := backend.Restart(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "restarted %s\n", args[0])
			return nil
		},
	}
}

func (a *App) logsCmd() *cobra.Command {
	var useStderr bool
	var lines int
	cmd := &cobra.Command{
		Use:   "logs <job>",
		Short: "Print the tail of a job's filelog",
		Long:  "Print the tail of a job's filelog. Paths come from the jobs file and\nresolve relative to the current directory (the tool home on the grid).",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := a.loadSpecs()
			if err != nil {
				return err
			}
			var spec *jobfile.Spec
			for i := range specs {
				if specs[i].Name == args[0] {
					spec = &specs[i]
					break
				}
			}
			if spec == nil {
				return fmt.Errorf("no job named %q in %s", args[0], a.jobsPath)
			}
			if spec.NoFilelog {
				return fmt.Errorf("job %s has file logging disabled", spec.Name)
			}

			path := spec.StdoutLog()
			if useStderr {
				path = spec.StderrLog()
			}
			tail, err := tailFile(path, lines)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, line := range tail {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&useStderr, "stderr", false, "read the stderr log instead of stdout")
	cmd.Flags().IntVarP(&lines, "lines", "n", 20, "number of trailing lines")
	return cmd
}

// tailFile returns the last n lines of a file. Logs on the grid can grow
// large, but a plain scan is fine for the sizes filelogs reach between
// logrotate runs.
func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if n <= 0 {
		n = 20
	}
	ring := make([]string, 0, n)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if len(ring) == n {
			copy(ring, ring[1:])
			ring = ring[:n-1]
		}
		ring = append(ring, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return ring, nil
}
