package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index including:
  - Document count and generation number
  - Queue depth and degraded-mode state
  - Last rebuild time and outcome
  - Recent query activity`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(cmd *cobra.Command, jsonOutput bool) error {
	svc, cfg, err := openService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	st := svc.Status()

	if jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Index:       %s\n", cfg.Paths.IndexDir)
	fmt.Fprintf(out, "Entries:     %s\n", cfg.Paths.EntryDB)
	fmt.Fprintf(out, "Documents:   %d (generation %d)\n", st.DocCount, st.GenerationSeq)
	fmt.Fprintf(out, "Queue depth: %d\n", st.QueueDepth)

	if st.Degraded {
		fmt.Fprintf(out, "Degraded:    yes (%s, %d deferred ops)\n", st.DegradedReason, st.Backlog)
	} else {
		fmt.Fprintln(out, "Degraded:    no")
	}

	if st.LastRebuildAt.IsZero() {
		fmt.Fprintln(out, "Rebuild:     never")
	} else if st.LastRebuildOK {
		fmt.Fprintf(out, "Rebuild:     ok at %s\n", st.LastRebuildAt.Format(time.RFC3339))
	} else {
		fmt.Fprintf(out, "Rebuild:     FAILED at %s: %s\n",
			st.LastRebuildAt.Format(time.RFC3339), st.LastRebuildErr)
	}

	fmt.Fprintf(out, "Applied ops: %d (%d skipped)\n", st.Applied, st.Skipped)
	fmt.Fprintf(out, "Queries:     %d total, %s avg\n",
		st.Queries.TotalQueries, st.Queries.AvgLatency.Round(time.Millisecond))
	return nil
}
