package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/neutrons/PyVDrive-sub000/internal/domain/tracker"
)

func newTrackersCmd() *cobra.Command {
	var slice string
	var history bool
	cmd := &cobra.Command{
		Use:   "trackers <run>",
		Short: "Show the reduction trackers of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid run number %q: %w", args[0], err)
			}
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !history {
				list, err := a.trackers.ListByRun(ctx, run)
				if err != nil {
					return err
				}
				printTrackers(out, list)
				return nil
			}
			events, err := a.trackers.History(ctx, tracker.Key{RunNumber: run, SliceKey: slice})
			if err != nil {
				return err
			}
			printHistory(out, events)
			return nil
		},
	}
	cmd.Flags().StringVar(&slice, "slice", "", "slice key for --history (empty for the unsliced run)")
	cmd.Flags().BoolVar(&history, "history", false, "print the state transitions of one tracker")
	return cmd
}

func printTrackers(w io.Writer, list []tracker.Tracker) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SLICE\tSTATE\tREDUCED\tARTIFACTS\tMODIFIED")
	for _, t := range list {
		slice := t.SliceKey
		if slice == "" {
			slice = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", slice, t.State, t.Reduced, len(t.Artifacts), t.ModifiedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func printHistory(w io.Writer, events []tracker.Event) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tFROM\tTO\tMESSAGE")
	for _, e := range events {
		from := string(e.From)
		if from == "" {
			from = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.CreatedAt.Format(time.RFC3339), from, e.To, e.Message)
	}
	tw.Flush()
}
