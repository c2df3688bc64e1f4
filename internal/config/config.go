// Package config loads process configuration from defaults, an optional
// config file and the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/latest-games/pkg/client"
	"github.com/Sternrassler/latest-games/pkg/feed"
	"github.com/Sternrassler/latest-games/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. LATEST_GAMES_UPSTREAM_API_KEY.
const EnvPrefix = "LATEST_GAMES"

// Config is the complete process configuration.
type Config struct {
	Port string

	// RedisURL is a redis:// URL or a bare host:port. Empty disables Redis.
	RedisURL string

	Log      LogConfig
	Upstream UpstreamConfig
	Feed     FeedConfig
}

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string
	Pretty bool
}

// UpstreamConfig configures the aggregator client.
type UpstreamConfig struct {
	BaseURL      string
	Path         string
	APIKey       string
	ImageBaseURL string
	PageSize     int
	SortBy       string
	UserAgent    string
	Timeout      time.Duration
	MaxAttempts  int
}

// FeedConfig configures accumulators and the sessions that hold them.
type FeedConfig struct {
	FetchTimeout  time.Duration
	MaxStalePages int
	SessionTTL    time.Duration
}

func setDefaults(v *viper.Viper) {
	def := client.DefaultConfig("")
	feedDef := feed.DefaultConfig()

	v.SetDefault("port", "8080")
	v.SetDefault("redis.url", "")

	v.SetDefault("log.level", string(logging.LevelInfo))
	v.SetDefault("log.pretty", false)

	v.SetDefault("upstream.base_url", def.BaseURL)
	v.SetDefault("upstream.path", def.Path)
	v.SetDefault("upstream.api_key", "")
	v.SetDefault("upstream.image_base_url", def.ImageBaseURL)
	v.SetDefault("upstream.page_size", def.PageSize)
	v.SetDefault("upstream.sort_by", def.SortBy)
	v.SetDefault("upstream.user_agent", def.UserAgent)
	v.SetDefault("upstream.timeout", def.Timeout)
	v.SetDefault("upstream.max_attempts", def.Retry.MaxAttempts)

	v.SetDefault("feed.fetch_timeout", feedDef.Timeout)
	v.SetDefault("feed.max_stale_pages", feedDef.MaxStalePages)
	v.SetDefault("feed.session_ttl", 30*time.Minute)
}

// Load reads configuration. path may be empty, in which case only defaults
// and the environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Conventional unprefixed names used by container platforms.
	if err := v.BindEnv("port", EnvPrefix+"_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("bind port env: %w", err)
	}
	if err := v.BindEnv("redis.url", EnvPrefix+"_REDIS_URL", "REDIS_URL"); err != nil {
		return nil, fmt.Errorf("bind redis env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{
		Port:     v.GetString("port"),
		RedisURL: v.GetString("redis.url"),
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Pretty: v.GetBool("log.pretty"),
		},
		Upstream: UpstreamConfig{
			BaseURL:      v.GetString("upstream.base_url"),
			Path:         v.GetString("upstream.path"),
			APIKey:       v.GetString("upstream.api_key"),
			ImageBaseURL: v.GetString("upstream.image_base_url"),
			PageSize:     v.GetInt("upstream.page_size"),
			SortBy:       v.GetString("upstream.sort_by"),
			UserAgent:    v.GetString("upstream.user_agent"),
			Timeout:      v.GetDuration("upstream.timeout"),
			MaxAttempts:  v.GetInt("upstream.max_attempts"),
		},
		Feed: FeedConfig{
			FetchTimeout:  v.GetDuration("feed.fetch_timeout"),
			MaxStalePages: v.GetInt("feed.max_stale_pages"),
			SessionTTL:    v.GetDuration("feed.session_ttl"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c *Config) Validate() error {
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.PageSize <= 0 {
		return fmt.Errorf("upstream.page_size must be > 0 (got %d)", c.Upstream.PageSize)
	}
	if c.Feed.FetchTimeout <= 0 {
		return fmt.Errorf("feed.fetch_timeout must be > 0 (got %s)", c.Feed.FetchTimeout)
	}
	if c.Feed.SessionTTL <= 0 {
		return fmt.Errorf("feed.session_ttl must be > 0 (got %s)", c.Feed.SessionTTL)
	}
	return nil
}

// Logging returns the pkg/logging configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.Level(strings.ToLower(c.Log.Level))
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// Client returns the aggregator client configuration. redisClient may be nil.
func (c *Config) Client(redisClient *redis.Client) client.Config {
	cfg := client.DefaultConfig(c.Upstream.APIKey)
	cfg.BaseURL = c.Upstream.BaseURL
	cfg.Path = c.Upstream.Path
	cfg.ImageBaseURL = c.Upstream.ImageBaseURL
	cfg.PageSize = c.Upstream.PageSize
	cfg.SortBy = c.Upstream.SortBy
	cfg.UserAgent = c.Upstream.UserAgent
	cfg.Timeout = c.Upstream.Timeout
	cfg.Retry.MaxAttempts = c.Upstream.MaxAttempts
	cfg.Redis = redisClient
	return cfg
}

// FeedDefaults returns the accumulator configuration shared by all sessions.
func (c *Config) FeedDefaults() feed.Config {
	return feed.Config{
		Timeout:       c.Feed.FetchTimeout,
		MaxStalePages: c.Feed.MaxStalePages,
	}
}

// RedisOptions parses RedisURL. It returns nil when Redis is disabled.
func (c *Config) RedisOptions() (*redis.Options, error) {
	if c.RedisURL == "" {
		return nil, nil
	}
	if strings.Contains(c.RedisURL, "://") {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: c.RedisURL}, nil
}
