package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/inkpress/blogsearch/internal/query"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	site     string
	category string
	locale   string
	limit    int
	offset   int
	format   string // "text", "json"
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed blog entries",
		Long: `Search indexed blog entries by relevance.

Matches in titles score higher than body text; comment matches score
lower. Results can be narrowed to a site, category, or locale.

Examples:
  blogsearchd search "static site generators"
  blogsearchd search "kubernetes" --site engineering --limit 5
  blogsearchd search "recipe" --category food/baking --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.site, "site", "s", "", "Restrict to a site handle")
	cmd.Flags().StringVarP(&opts.category, "category", "c", "", "Restrict to a category path")
	cmd.Flags().StringVarP(&opts.locale, "locale", "l", "", "Restrict to a locale (e.g., en, de)")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().IntVar(&opts.offset, "offset", 0, "Skip this many results")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, queryText string, opts searchOptions) error {
	svc, _, err := openService()
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	hits, err := svc.Search(ctx, queryText, query.Filters{
		SiteHandle:   opts.site,
		CategoryPath: opts.category,
		Locale:       opts.locale,
		Offset:       opts.offset,
		Limit:        opts.limit,
	})
	if err != nil {
		return err
	}

	var collected []query.Hit
	for hit := range hits {
		collected = append(collected, hit)
	}

	if opts.format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(collected)
	}

	if len(collected) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}

	for i, hit := range collected {
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. %s  (%.3f)\n", opts.offset+i+1, hit.Title, hit.Score)
		if hit.SiteHandle != "" || !hit.PublishedAt.IsZero() {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s  %s\n",
				hit.SiteHandle, hit.PublishedAt.Format(time.DateOnly))
		}
		if hit.Snippet != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", hit.Snippet)
		}
	}
	return nil
}
