package main

import (
	"fmt"
	"os"

	"github.com/danmuck/shellpool/internal/logging"
	"github.com/spf13/cobra"
)

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "shellctl: %v\n", err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "shellctl",
		Short:         "Run shell commands on pooled privileged and unprivileged shells",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to shellctl TOML config")

	root.AddCommand(
		newExecCmd(opts),
		newProbeCmd(opts),
		newInstallCmd(opts),
		newServeCmd(opts),
		newConfigCmd(opts),
	)
	return root
}
