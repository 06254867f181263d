package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/neutrons/PyVDrive-sub000/internal/config"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/reduction"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/splitter"
	"github.com/neutrons/PyVDrive-sub000/internal/engine"
)

type reduceFlags struct {
	jobFile  string
	banks    int
	interval float64
	tag      string
	vanadium string
	dryRun   bool
	retain   bool
	metrics  string
}

func newReduceCmd() *cobra.Command {
	var f reduceFlags
	cmd := &cobra.Command{
		Use:   "reduce [event-file]",
		Short: "Slice, focus and write one run",
		Long: `Reduce loads an event file, slices it (by a job file or --interval),
focuses each slice onto the diffraction banks and writes one GSAS file per
target under the configured output directory.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			job, err := buildJob(a.cfg, f, args, cmd)
			if err != nil {
				return err
			}
			svc, err := a.reducer()
			if err != nil {
				return err
			}
			report, err := svc.Reduce(cmd.Context(), job)
			if report != nil {
				printReport(cmd.OutOrStdout(), report)
			}
			if f.metrics != "" {
				if werr := prometheus.WriteToTextfile(f.metrics, prometheus.DefaultGatherer); werr != nil {
					a.logger.Warn("failed to write metrics", "path", f.metrics, "error", werr)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVarP(&f.jobFile, "job", "j", "", "YAML job file")
	cmd.Flags().IntVar(&f.banks, "banks", 3, "number of focused banks (2, 3, 7 or 27)")
	cmd.Flags().Float64Var(&f.interval, "interval", 0, "slice by constant time step in seconds")
	cmd.Flags().StringVar(&f.tag, "tag", "", "slicer tag used for the tracker and output directory")
	cmd.Flags().StringVar(&f.vanadium, "vanadium", "", "GSAS file of a vanadium run to normalize by")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "stop after chopping")
	cmd.Flags().BoolVar(&f.retain, "retain-raw", false, "keep the raw event workspace")
	cmd.Flags().StringVar(&f.metrics, "metrics-file", "", "write prometheus metrics in text format to this file")
	return cmd
}

// buildJob layers the configured defaults, then the job file, then the
// flags the user set explicitly.
func buildJob(cfg config.Config, f reduceFlags, args []string, cmd *cobra.Command) (reduction.Job, error) {
	job := reduction.Job{
		BankCount: f.banks,
		Unit:      engine.Unit(cfg.Reduction.Unit),
		Binning:   cfg.Reduction.Binning,
		Align:     cfg.Reduction.AlignToVDriveBins,
		Retain:    cfg.Reduction.RetainRaw,
	}
	if f.jobFile != "" {
		data, err := os.ReadFile(f.jobFile)
		if err != nil {
			return job, fmt.Errorf("read job file: %w", err)
		}
		if err := yaml.Unmarshal(data, &job); err != nil {
			return job, fmt.Errorf("parse job file: %w", err)
		}
	}

	flags := cmd.Flags()
	if len(args) == 1 {
		job.EventFile = args[0]
	}
	if flags.Changed("banks") {
		job.BankCount = f.banks
	}
	if flags.Changed("interval") {
		step := f.interval
		job.Slicing = reduction.Slicing{Kind: reduction.SliceInterval, Step: &step}
	}
	if flags.Changed("tag") {
		job.Slicing.Tag = f.tag
	}
	if flags.Changed("vanadium") {
		job.Vanadium = f.vanadium
	}
	if flags.Changed("dry-run") {
		job.DryRun = f.dryRun
	}
	if flags.Changed("retain-raw") {
		job.Retain = f.retain
	}
	if job.EventFile == "" {
		return job, fmt.Errorf("%w: no event file given", reduction.ErrInvalidJob)
	}
	return job, nil
}

func printReport(w io.Writer, r *reduction.Report) {
	fmt.Fprintf(w, "job %s run %d (%s)\n", r.JobID, r.RunNumber, r.Finished.Sub(r.Started).Round(time.Millisecond))
	for _, s := range r.Sets {
		status := "ok"
		if s.Err != nil {
			status = "error: " + s.Err.Error()
		}
		fmt.Fprintf(w, "  %s: %d segments, %d chunks, %d targets, %s\n",
			s.Key, s.Segments, len(s.Result.Chunks), len(s.Result.Targets), status)

		if len(s.Artifacts) == 0 {
			for _, win := range s.Windows {
				fmt.Fprintf(w, "    %s [%s, %s)\n", win.Target,
					win.Start.Format(time.RFC3339Nano), win.Stop.Format(time.RFC3339Nano))
			}
		}

		targets := make([]string, 0, len(s.Artifacts))
		for t := range s.Artifacts {
			targets = append(targets, string(t))
		}
		sort.Strings(targets)
		for _, t := range targets {
			fmt.Fprintf(w, "    %s -> %s\n", t, s.Artifacts[splitter.Target(t)])
		}
	}
}
