package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/latest-games/internal/server"
	"github.com/Sternrassler/latest-games/pkg/client"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve latest-games sessions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath, port)
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "listen port (overrides config)")
	return cmd
}

func runServe(ctx context.Context, configPath, port string) error {
	cfg, redisClient, err := setup(ctx, configPath)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}
	if port != "" {
		cfg.Port = port
	}

	upstream, err := client.New(cfg.Client(redisClient))
	if err != nil {
		return err
	}
	defer upstream.Close()

	srv := server.New(upstream, server.Config{
		Addr:       ":" + cfg.Port,
		Feed:       cfg.FeedDefaults(),
		SessionTTL: cfg.Feed.SessionTTL,
		Redis:      redisClient,
	})
	return srv.Run(ctx)
}
