package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/buckleypaul/sdkrun/internal/config"
)

// rootOptions holds global flags and the host configuration shared by all
// commands.
type rootOptions struct {
	LogLevel  string
	Workspace string

	cfg config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "sdkrun",
		Short: "Build, deploy and check SDK applications on boards and simulators",
		Long: `sdkrun builds every application of a run configuration with the SDK's
make based build, deploys it onto hardware over a debug probe or onto a
simulator, and classifies the console transcript against pass and fail
markers. Transient device failures are retried and recovered; repeated
environment failures abort the run.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error); defaults to the host config")
	cmd.PersistentFlags().StringVar(&opts.Workspace, "workspace", "", "directory holding .sdkrun (default: current directory)")

	cmd.AddCommand(newRunCommand(opts, false))
	cmd.AddCommand(newRunCommand(opts, true))
	cmd.AddCommand(newPortsCommand(opts))
	cmd.AddCommand(newHistoryCommand(opts))
	return cmd
}

func (o *rootOptions) setup() error {
	if o.Workspace == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return wrapExit(exitCommandError, "get working directory", err)
		}
		o.Workspace = cwd
	}
	o.cfg = config.Load(o.Workspace)

	level := o.LogLevel
	if level == "" {
		level = o.cfg.LogLevel
	}
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return wrapExit(exitCommandError, fmt.Sprintf("invalid log level %q", level), err)
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

// stateDir is where the run history lives.
func (o *rootOptions) stateDir() string {
	return filepath.Join(o.Workspace, ".sdkrun")
}
