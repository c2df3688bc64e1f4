package main

import (
	"fmt"

	"github.com/Sternrassler/latest-games/pkg/client"
	"github.com/Sternrassler/latest-games/pkg/pagination"
	"github.com/spf13/cobra"
)

func newWarmCmd(configPath *string) *cobra.Command {
	var (
		pages       int
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "warm",
		Short: "Prefetch the first pages into the Redis page cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, redisClient, err := setup(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			if redisClient == nil {
				return fmt.Errorf("warm needs Redis: set REDIS_URL")
			}
			defer redisClient.Close()

			upstream, err := client.New(cfg.Client(redisClient))
			if err != nil {
				return err
			}
			defer upstream.Close()

			pcfg := pagination.DefaultConfig()
			pcfg.MaxConcurrency = concurrency
			pcfg.Timeout = cfg.Feed.FetchTimeout

			res, err := pagination.NewPrefetcher(upstream, pcfg).Prefetch(cmd.Context(), pages)
			fmt.Fprintf(cmd.OutOrStdout(), "cached %d pages", len(res.Pages))
			if res.LastPage > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), ", listing ends at page %d", res.LastPage)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().IntVarP(&pages, "pages", "n", 5, "number of pages to prefetch")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel page requests")
	return cmd
}
