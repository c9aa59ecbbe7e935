package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"cmmsd/internal/app"
	"cmmsd/internal/maintenance"
	"cmmsd/internal/recurrence"
)

func newCycleCmd(opts *options) *cobra.Command {
	var (
		date   string
		strict bool
	)
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "Run one maintenance cycle now and print its report",
		Long: "Runs generation then reminders once, against the configured store, and prints the report as JSON.\n" +
			"Safe to run next to a serving daemon: the cycle takes the configured lock and generation is idempotent.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, comp, err := opts.components()
			if err != nil {
				return err
			}
			defer comp.Close()

			timeout, err := app.CycleTimeout(cfg)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			ref := comp.Engine.Today()
			if date != "" {
				if ref, err = maintenance.ParseDate(date); err != nil {
					return err
				}
			}
			rep, err := comp.Engine.RunMaintenanceCycleAt(ctx, ref, recurrence.TriggerCLI)
			if perr := printJSON(cmd.OutOrStdout(), rep); perr != nil {
				return perr
			}
			if err != nil {
				return err
			}
			if strict && rep.Failed+rep.Malformed+rep.ReminderFailed > 0 {
				return fmt.Errorf("cycle finished with %d failed, %d malformed, %d reminder failures",
					rep.Failed, rep.Malformed, rep.ReminderFailed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "reference date YYYY-MM-DD (default: today in engine.timezone)")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any schedule or reminder failed")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
