package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"jobgrid/internal/jobfile"
	"jobgrid/internal/syncer"
)

func (a *App) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the jobs file for errors without touching the grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			specs, err := a.loadSpecs()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d jobs, no problems found\n", a.jobsPath, len(specs))
			return nil
		},
	}
}

func (a *App) listCmd() *cobra.Command {
	var live bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the jobs in the jobs file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			specs, err := a.loadSpecs()
			if err != nil {
				return err
			}

			phases := map[string]string{}
			if live {
				backend, err := a.backend()
				if err != nil {
					return err
				}
				jobs, err := backend.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, lj := range jobs {
					phases[lj.Name] = lj.Status.Phase
				}
			}

			out := cmd.OutOrStdout()
			if a.output == "json" {
				return a.printJSON(out, specs)
			}
			tw := newTable(out)
			if live {
				row(tw, "NAME", "KIND", "SCHEDULE", "EMAILS", "PHASE")
			} else {
				row(tw, "NAME", "KIND", "SCHEDULE", "EMAILS")
			}
			for _, s := range specs {
				sched := s.Schedule
				if sched == "" {
					sched = "-"
				}
				if live {
					phase, ok := phases[s.Name]
					if !ok {
						phase = "absent"
					}
					row(tw, s.Name, s.Kind(), sched, s.EmailsOrDefault(), phase)
				} else {
					row(tw, s.Name, s.Kind(), sched, s.EmailsOrDefault())
				}
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "include live grid state")
	return cmd
}

func (a *App) showCmd() *cobra.Command {
	var next int
	cmd := &cobra.Command{
		Use:   "show <job>",
		Short: "Show one job record in detail",
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

			out := cmd.OutOrStdout()
			if a.output == "json" {
				return a.printJSON(out, spec)
			}

			tw := newTable(out)
			row(tw, "name:", spec.Name)
			row(tw, "kind:", spec.Kind())
			row(tw, "command:", spec.Command)
			row(tw, "image:", spec.Image)
			if spec.Schedule != "" {
				row(tw, "schedule:", spec.Schedule)
			}
			row(tw, "emails:", spec.EmailsOrDefault())
			if spec.NoFilelog {
				row(tw, "filelog:", "disabled")
			} else {
				row(tw, "stdout log:", spec.StdoutLog())
				row(tw, "stderr log:", spec.StderrLog())
			}
			if spec.Mem != "" {
				row(tw, "mem:", spec.Mem)
			}
			if spec.CPU != "" {
				row(tw, "cpu:", spec.CPU)
			}
			if spec.Retry > 0 {
				row(tw, "retry:", spec.Retry)
			}
			row(tw, "hash:", jobfile.Hash(*spec))
			if err := tw.Flush(); err != nil {
				return err
			}

			if spec.Kind() == jobfile.KindScheduled && next > 0 {
				times, err := jobfile.NextRuns(spec.Schedule, time.Now(), next)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, "next runs (UTC):")
				for _, t := range times {
					fmt.Fprintf(out, "  %s\n", humanTime(t))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&next, "next", 3, "for scheduled jobs, how many upcoming runs to show (0 disables)")
	return cmd
}

func (a *App) imagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "images",
		Short: "Show the container images the jobs file may use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			allowed := a.cfg.Grid.AllowedImages
			if a.output == "json" {
				return a.printJSON(out, allowed)
			}
			if len(allowed) == 0 {
				fmt.Fprintln(out, "any image is allowed (grid.allowed_images is empty)")
				return nil
			}
			for _, img := range allowed {
				fmt.Fprintln(out, img)
			}
			return nil
		},
	}
}

func (a *App) diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show what load would change on the grid",
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
			live, err := backend.List(cmd.Context())
			if err != nil {
				return err
			}
			d := toPlan(syncer.Compute(specs, live))

			out := cmd.OutOrStdout()
			if a.output == "json" {
				return a.printJSON(out, d)
			}
			if len(d.Create)+len(d.Update)+len(d.Delete) == 0 {
				fmt.Fprintln(out, "grid is in sync with the jobs file")
				return nil
			}
			for _, name := range d.Create {
				fmt.Fprintf(out, "+ %s\n", name)
			}
			for _, name := range d.Update {
				fmt.Fprintf(out, "~ %s\n", name)
			}
			for _, name := range d.Delete {
				fmt.Fprintf(out, "- %s\n", name)
			}
			return nil
		},
	}
}

// plan is the JSON shape of the diff output.
type plan struct {
	Create []string `json:"create"`
	Update []string `json:"update"`
	Delete []string `json:"delete"`
}

func toPlan(d syncer.Diff) plan {
	var p plan
	for _, s := range d.Create {
		p.Create = append(p.Create, s.Name)
	}
	for _, s := range d.Update {
		p.Update = append(p.Update, s.Name)
	}
	for _, lj := range d.Orphans {
		p.Delete = append(p.Delete, lj.Name)
	}
	return p
}
