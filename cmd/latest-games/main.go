package main

import (
	"context"
	"fmt"
	"os"

	"github.com/Sternrassler/latest-games/internal/config"
	"github.com/Sternrassler/latest-games/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd creates the root command.
func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "latest-games",
		Short:         "Browse recently reviewed games page by page",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (yaml, json or toml)")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newListCmd(&configPath),
		newWarmCmd(&configPath),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "latest-games", version)
		},
	}
}

// setup loads configuration, installs the logger and connects Redis when
// configured. The returned client is nil without Redis.
func setup(ctx context.Context, configPath string) (*config.Config, *redis.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logging.Setup(cfg.Logging())

	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, nil, err
	}
	if opts == nil {
		log.Info().Msg("Redis not configured - page cache disabled")
		return cfg, nil, nil
	}

	redisClient := redis.NewClient(opts)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		redisClient.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}
	log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	return cfg, redisClient, nil
}
