// Package main is the entry point for the notebook server.
//
// The binary is a small cobra CLI. With no subcommand it serves the API; the
// other commands are operator helpers that work on the same configuration.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sakif/notebook-server/internal/config"
	"github.com/sakif/notebook-server/internal/server"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	serve := func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context(), configPath, cmd.ErrOrStderr())
	}

	root := &cobra.Command{
		Use:          "notebook-server",
		Short:        "Notebook execution and analysis API",
		Version:      version,
		SilenceUsage: true,
		RunE:         serve,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to config.yaml (default: $NOTEBOOK_CONFIG, ./config.yaml, /etc/notebook-server/config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Serve the HTTP API (the default command)",
			Args:  cobra.NoArgs,
			RunE:  serve,
		},
		newTokenCmd(&configPath),
		newHashKeyCmd(),
		newCellsCmd(),
	)
	return root
}

func runServe(ctx context.Context, configPath string, logOut io.Writer) error {
	// === 1. CONFIGURATION ===
	// Defaults, then the YAML file, then NOTEBOOK_* environment variables.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	logger, err := newLogger(cfg.Log, logOut)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	// === 3. SIGNALS ===
	// The context ends on Ctrl+C or SIGTERM, which starts graceful shutdown.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === 4. DEPENDENCIES ===
	// Store, interpreter, chat client and auth. A kernel that cannot start is
	// fatal: the API has nothing to serve without it.
	deps, err := server.Build(ctx, cfg, version, logger)
	if err != nil {
		logger.Error("failed to start", slog.String("error", err.Error()))
		return err
	}

	// === 5. SERVE ===
	// Run blocks until ctx ends and closes deps on the way out.
	if err := server.New(cfg, deps, logger).Run(ctx); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		return err
	}
	return nil
}

// newLogger builds the process logger from the log section.
func newLogger(c config.LogConfig, out io.Writer) (*slog.Logger, error) {
	level, err := c.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch c.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(out, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(out, opts)), nil
	}
	return nil, fmt.Errorf("unknown log format %q", c.Format)
}
