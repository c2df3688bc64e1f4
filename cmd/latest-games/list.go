package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/Sternrassler/latest-games/pkg/client"
	"github.com/Sternrassler/latest-games/pkg/feed"
	"github.com/spf13/cobra"
)

func newListCmd(configPath *string) *cobra.Command {
	var pages int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the latest reviewed games",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pages < 1 {
				return fmt.Errorf("--pages must be >= 1 (got %d)", pages)
			}
			cfg, redisClient, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			if redisClient != nil {
				defer redisClient.Close()
			}

			upstream, err := client.New(cfg.Client(redisClient))
			if err != nil {
				return err
			}
			defer upstream.Close()

			return runList(cmd.Context(), cmd.OutOrStdout(), upstream, cfg.FeedDefaults(), pages)
		},
	}
	cmd.Flags().IntVarP(&pages, "pages", "n", 1, "maximum number of pages to load")
	return cmd
}

// runList loads up to pages pages into one accumulator and prints the feed.
// It stops early when the feed is exhausted.
func runList(ctx context.Context, out io.Writer, fetcher feed.Fetcher, cfg feed.Config, pages int) error {
	acc := feed.New(fetcher, cfg)
	defer acc.Close()

	if _, err := acc.Initialize(ctx); err != nil {
		return err
	}
	for i := 1; i < pages; i++ {
		started, err := acc.RequestNextPage(ctx)
		if err != nil {
			return err
		}
		if !started {
			break
		}
	}

	v := acc.Snapshot()
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tSCORE\tRELEASED\tTITLE")
	for i, g := range v.Items {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i+1, g.Score, g.ReleaseDate, g.Title)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case len(v.Items) == 0:
		fmt.Fprintln(out, "No games found.")
	case !v.HasMore:
		fmt.Fprintf(out, "%d games, end of list.\n", len(v.Items))
	default:
		fmt.Fprintf(out, "%d games, more available from page %d.\n", len(v.Items), v.Cursor)
	}
	return nil
}
