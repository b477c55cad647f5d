package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkpress/blogsearch/internal/entry"
)

func newPutCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "put [entry.json]",
		Short: "Save a blog entry and schedule it for indexing",
		Long: `Save a blog entry to the entry store and enqueue an index update.

The entry is read as JSON from the given file, or from stdin when no
file is given:

  {
    "id": "post-123",
    "site_handle": "engineering",
    "category_path": "infra/search",
    "locale": "en",
    "title": "...",
    "body": "...",
    "published": true,
    "published_at": "2026-08-01T09:00:00Z"
  }`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				file = args[0]
			}
			return runPut(cmd.Context(), cmd, file)
		},
	}

	return cmd
}

func runPut(ctx context.Context, cmd *cobra.Command, file string) error {
	var r io.Reader = cmd.InOrStdin()
	if file != "" {
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer func() { _ = f.Close() }()
		r = f
	}

	var snap entry.Snapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return fmt.Errorf("parse entry: %w", err)
	}
	if snap.ID == "" {
		return fmt.Errorf("entry id is required")
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = time.Now().UTC()
	}

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

	if err := svc.Entries().SaveEntry(ctx, &snap); err != nil {
		return fmt.Errorf("save entry: %w", err)
	}
	if err := svc.EnqueueAdd(snap.ID); err != nil {
		return fmt.Errorf("enqueue index update: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Saved %s and scheduled indexing.\n", snap.ID)
	return nil
}

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <entry-id>",
		Short: "Delete a blog entry and remove it from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRemove(cmd.Context(), cmd, args[0])
		},
	}

	return cmd
}

func runRemove(ctx context.Context, cmd *cobra.Command, id string) error {
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

	if err := svc.Entries().DeleteEntry(ctx, id); err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	if err := svc.EnqueueRemove(id); err != nil {
		return fmt.Errorf("enqueue index removal: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s and scheduled index removal.\n", id)
	return nil
}
