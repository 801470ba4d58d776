package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"chimeradb/internal/http"
	"chimeradb/pkg/db"

	"github.com/spf13/cobra"
)

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Recover the database and serve the HTTP API",
		Long: `Load the config, recover every configured engine from its snapshots and
write-ahead log, and serve the HTTP API until SIGINT or SIGTERM. Shutdown
writes a final snapshot per engine.

Examples:
  chimeradb serve --config ./config.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, rootOpts, cmd)
		},
	}
}

func runServe(ctx context.Context, opts *rootOptions, cmd *cobra.Command) error {
	cfg, err := initConfig(opts.ConfigPath)
	if err != nil {
		return err
	}
	logger, err := initLogger(cmd.ErrOrStderr(), cfg.Logger)
	if err != nil {
		return err
	}

	database, err := db.Open(cfg.DB, logger)
	if err != nil {
		return err
	}
	if err := database.Startup(ctx); err != nil {
		_ = database.Shutdown(context.Background())
		return fmt.Errorf("startup failed: %w", err)
	}

	server := http.NewServer(database, cfg.Server, int64(cfg.DB.Limits.MaxValueSize), logger)
	if err := server.Start(); err != nil {
		_ = database.Shutdown(context.Background())
		return err
	}

	<-ctx.Done()
	logger.Info("shutting down")

	stopErr := server.Stop()
	if err := database.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if stopErr != nil {
		return stopErr
	}
	logger.Info("stopped")
	return nil
}
