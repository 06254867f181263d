package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/neutrons/PyVDrive-sub000/internal/config"
	"github.com/neutrons/PyVDrive-sub000/internal/domain/calibration"
)

var focusBankCounts = []int{2, 3, 7, 27}

func newCalibrationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "calibrations",
		Short: "List the calibration table in effect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			table, err := calibration.LoadTable(cfg.Calibration.Table)
			if err != nil {
				return err
			}
			return printCalibrations(cmd.OutOrStdout(), table)
		},
	}
}

func printCalibrations(w io.Writer, table *calibration.Table) error {
	fmt.Fprintf(w, "instrument %s\n", table.Instrument())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EFFECTIVE\tBANKS\tCALIBRATION")
	for _, d := range table.EffectiveDates() {
		for _, n := range focusBankCounts {
			entry, err := table.Resolve(d, n)
			if errors.Is(err, calibration.ErrUnknownBankCount) {
				continue
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%d\t%s\n", d.Format(calibration.DateLayout), n, entry.Files.Calibration)
		}
	}
	return tw.Flush()
}
