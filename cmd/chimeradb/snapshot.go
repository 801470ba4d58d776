package main

import (
	"context"
	"fmt"

	"chimeradb/pkg/db"

	"github.com/spf13/cobra"
)

type snapshotResult struct {
	Engine string `json:"engine"`
	ID     string `json:"id"`
}

func newSnapshotCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Recover the database offline and capture a snapshot of every engine",
		Long: `Recover every configured engine, capture a snapshot of each one and shut
down. The write-ahead log is truncated up to each snapshot watermark.

The database must not be served by another process at the same time.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSnapshot(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runSnapshot(ctx context.Context, opts *rootOptions, cmd *cobra.Command) error {
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

	results := make([]snapshotResult, 0, len(database.Kinds()))
	var captureErr error
	for _, kind := range database.Kinds() {
		e, err := database.Engine(kind)
		if err != nil {
			captureErr = err
			break
		}
		id, err := e.Snapshot(ctx)
		if err != nil {
			captureErr = fmt.Errorf("%s: %w", kind, err)
			break
		}
		results = append(results, snapshotResult{Engine: string(kind), ID: id.String()})
	}

	if err := database.Shutdown(context.Background()); err != nil && captureErr == nil {
		captureErr = fmt.Errorf("shutdown failed: %w", err)
	}
	if captureErr != nil {
		return captureErr
	}

	if opts.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), results)
	}
	for _, r := range results {
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.Engine, r.ID)
	}
	return nil
}
