package main

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"

	"cmmsd/internal/app"
	"cmmsd/internal/config"
	logx "cmmsd/pkg/logx"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

type options struct {
	configPath string
	envFile    string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "cmmsd",
		Short:         "Recurring maintenance work order daemon",
		Long:          "cmmsd generates preventive maintenance work orders from recurring schedules and sends due date reminders.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return config.LoadDotEnv(opts.envFile)
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "cmmsd.yaml", "config file (.yaml, .yml or .json)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with secrets; missing is fine")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "console log level for one-shot commands")

	root.AddCommand(
		newServeCmd(opts),
		newCycleCmd(opts),
		newScheduleCmd(opts),
		newWorkOrderCmd(opts),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return root
}

// load parses and validates the config without starting anything.
func (o *options) load() (*config.Config, error) {
	return config.NewConfigManager(o.configPath).Load()
}

func (o *options) logger() logx.Logger {
	return logx.NewConsole(o.logLevel)
}

// components builds the cycle object graph for one-shot commands. The
// caller closes it.
func (o *options) components() (*config.Config, *app.Components, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, nil, err
	}
	comp, err := app.Build(cfg, o.logger(), nil)
	return cfg, comp, err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and build info",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

func printVersion(w io.Writer) {
	v := version
	if bi, ok := debug.ReadBuildInfo(); ok && v == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		v = bi.Main.Version
	}
	fmt.Fprintf(w, "cmmsd %s (%s %s/%s)\n", v, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
