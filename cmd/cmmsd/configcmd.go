package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"cmmsd/internal/app"
	"cmmsd/internal/config"
)

func newConfigCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config file helpers",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "example",
			Short: "Print an annotated example config",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				_, err := cmd.OutOrStdout().Write(config.Example())
				return err
			},
		},
		&cobra.Command{
			Use:   "check",
			Short: "Parse and validate the config file, including env overrides",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := opts.load()
				if err != nil {
					return err
				}
				if err := app.Validate(cfg); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", opts.configPath)
				return nil
			},
		},
	)
	return cmd
}
