package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the indexing daemon",
		Long: `Run the indexing daemon until interrupted.

The daemon drains the operation queue, polls the entry change log,
and serves search queries. On SIGINT/SIGTERM it stops accepting
operations, drains queued work, and exits.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, rebuild)
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Force a full index rebuild at startup")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, rebuild bool) error {
	svc, cfg, err := openService()
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Error("shutdown error", slog.String("error", err.Error()))
		}
	}()

	if rebuild {
		cfg.Indexer.RebuildOnStart = true
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "blogsearchd serving (index: %s, entries: %s)\n",
		cfg.Paths.IndexDir, cfg.Paths.EntryDB)
	slog.Info("daemon started",
		slog.String("index_dir", cfg.Paths.IndexDir),
		slog.String("entry_db", cfg.Paths.EntryDB))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	case <-ctx.Done():
	}

	return nil
}
