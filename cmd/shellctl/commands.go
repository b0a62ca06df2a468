package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/shellpool/internal/config"
	"github.com/danmuck/shellpool/internal/install"
	"github.com/danmuck/shellpool/internal/node"
	"github.com/danmuck/shellpool/internal/observability"
	"github.com/danmuck/shellpool/internal/server"
	"github.com/danmuck/shellpool/internal/shell"
	"github.com/danmuck/shellpool/internal/toolbox"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newExecCmd(opts *rootOptions) *cobra.Command {
	var pool string
	var safe bool
	cmd := &cobra.Command{
		Use:   "exec -- command...",
		Short: "Run a command batch and print the output lines",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cli, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("pool") {
				cli.Pool = pool
			}
			if cmd.Flags().Changed("safe") {
				cli.Safe = safe
			}

			tb, err := openToolbox(cfg)
			if err != nil {
				return err
			}
			defer tb.Reset()

			ctx := cmd.Context()
			if cli.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
				defer cancel()
			}

			target, lines, err := runBatch(ctx, tb, cli.Pool, args)
			if err != nil {
				if target != nil {
					log.Debug().Str("pool", target.Kind().String()).Str("outcome", shell.Outcome(err)).Err(err).Msg("exec failed")
				}
				if !cli.Safe || errors.Is(err, errUnknownPool) {
					return err
				}
				lines = nil
			}
			out := cmd.OutOrStdout()
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&pool, "pool", "auto", "pool to run on: auto, privileged or unprivileged")
	cmd.Flags().BoolVar(&safe, "safe", false, "print nothing instead of failing")
	return cmd
}

func newProbeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Report which pools can run commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			tb, err := openToolbox(cfg)
			if err != nil {
				return err
			}
			defer tb.Reset()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "executable: %s\n", tb.ExecutablePath())
			for _, pool := range []*shell.Pool{tb.Privileged(), tb.Unprivileged()} {
				fmt.Fprintf(out, "%s: available=%t\n", pool.Kind(), pool.Available(cmd.Context()))
			}
			return nil
		},
	}
}

func newInstallCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Extract the bundled utility binary and print its path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			path, err := resolveExecutable(cfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Expose the pools over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			observability.InitLogger("shellctl")

			tb, err := openToolbox(cfg)
			if err != nil {
				return err
			}
			defer tb.Reset()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var n node.Node = server.New(cfg.Server.ID, cfg.Server.Addr, tb, cfg.Server.CorsOrigins)
			log.Info().Str("node", n.NodeID()).Str("kind", n.Kind()).Msg("starting")
			return n.Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, show or validate shellctl config",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a config template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(args[0], force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg)
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.configPath == "" {
				return errors.New("--config is required")
			}
			if _, _, err := loadConfig(opts.configPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, validateCmd)
	return cmd
}

// resolveExecutable prefers a configured executable over extraction.
func resolveExecutable(cfg config.Config) (string, error) {
	if cfg.Install.Executable != "" {
		return cfg.Install.Executable, nil
	}
	installer, err := install.NewInstaller(cfg.InstallerConfig())
	if err != nil {
		return "", err
	}
	return installer.Resolve()
}

func openToolbox(cfg config.Config) (*toolbox.Toolbox, error) {
	path, err := resolveExecutable(cfg)
	if err != nil {
		return nil, err
	}
	tbCfg, err := cfg.ToolboxConfig(path)
	if err != nil {
		return nil, err
	}
	return toolbox.New(tbCfg)
}

var errUnknownPool = errors.New("unknown pool")

// runBatch executes on the named pool; auto goes through the toolbox facade.
func runBatch(ctx context.Context, tb *toolbox.Toolbox, raw string, commands []string) (*shell.Pool, []string, error) {
	if raw == "" || raw == "auto" {
		return tb.Run(ctx, commands...)
	}
	kind, err := shell.ParseKind(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errUnknownPool, err)
	}
	pool := tb.Pool(kind)
	lines, err := pool.Execute(ctx, commands...)
	return pool, lines, err
}
