package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newRebuildCmd() *cobra.Command {
	var timeout time.Duration
	var noWait bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the full-text index from scratch",
		Long: `Rebuild the full-text index from the entry store.

All publishable entries are re-read and indexed into a fresh index
generation, which atomically replaces the current one on success.
Searches keep working against the old generation during the rebuild.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRebuild(cmd.Context(), cmd, timeout, noWait)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Maximum time to wait for completion")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Request the rebuild and return immediately")

	return cmd
}

func runRebuild(ctx context.Context, cmd *cobra.Command, timeout time.Duration, noWait bool) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := svc.Start(runCtx); err != nil {
		return err
	}

	ticket, err := svc.RequestRebuild()
	if err != nil {
		return fmt.Errorf("request rebuild: %w", err)
	}

	if noWait {
		fmt.Fprintln(cmd.OutOrStdout(), "Rebuild requested.")
		return nil
	}

	waitCtx, waitCancel := context.WithTimeout(ctx, timeout)
	defer waitCancel()

	start := time.Now()
	if err := ticket.Wait(waitCtx); err != nil {
		return fmt.Errorf("rebuild did not complete: %w", err)
	}
	if err := ticket.Err(); err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}

	st := svc.Status()
	fmt.Fprintf(cmd.OutOrStdout(), "Rebuild complete in %s (%d documents, generation %d)\n",
		time.Since(start).Round(time.Millisecond), st.DocCount, st.GenerationSeq)
	return nil
}
