// Package client fetches pages of recently reviewed games from the review
// aggregator, with caching, quota tracking, retries and a circuit breaker.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/latest-games/pkg/cache"
	"github.com/Sternrassler/latest-games/pkg/game"
	"github.com/Sternrassler/latest-games/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "latest_games_upstream_requests_total",
		Help: "Requests sent to the review aggregator by HTTP status",
	}, []string{"status"})

	upstreamRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "latest_games_upstream_request_duration_seconds",
		Help:    "Duration of a FetchPage call including retries",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "latest_games_upstream_errors_total",
		Help: "Failed upstream attempts by error class",
	}, []string{"class"})

	upstreamRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "latest_games_upstream_retries_total",
		Help: "Upstream retry attempts by error class",
	}, []string{"error_class"})

	upstreamRetryBackoff = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "latest_games_upstream_retry_backoff_seconds",
		Help:    "Backoff before an upstream retry by error class",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"error_class"})

	upstreamRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "latest_games_upstream_retry_exhausted_total",
		Help: "Upstream requests that ran out of retries by error class",
	}, []string{"error_class"})

	upstreamBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "latest_games_upstream_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
	})

	upstreamDroppedItems = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_upstream_dropped_items_total",
		Help: "Listing items dropped for lacking both slug and title",
	})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL and Path locate the latest-games listing.
	BaseURL string
	Path    string

	// APIKey is sent as the apiKey query parameter. Never part of cache keys.
	APIKey string

	// ImageBaseURL prefixes the image bucket type and path.
	ImageBaseURL string

	// PageSize is the number of games per page.
	PageSize int

	// SortBy is the listing order.
	SortBy string

	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// Redis enables the page cache and shared quota state. Optional.
	Redis *redis.Client

	Retry RetryConfig

	// BreakerTimeout is how long the breaker stays open before probing.
	BreakerTimeout time.Duration

	// BreakerFailures is the number of consecutive failures that opens the breaker.
	BreakerFailures uint32
}

// DefaultConfig returns a configuration pointing at the public aggregator.
func DefaultConfig(apiKey string) Config {
	return Config{
		BaseURL:         "https://internal-prod.apigee.fandom.net/v1/xapi",
		Path:            "/finder/metacritic/web",
		APIKey:          apiKey,
		ImageBaseURL:    "https://www.metacritic.com/a/img",
		PageSize:        24,
		SortBy:          "-releaseDate",
		UserAgent:       "latest-games/0.1.0",
		Timeout:         10 * time.Second,
		Retry:           DefaultRetryConfig(),
		BreakerTimeout:  30 * time.Second,
		BreakerFailures: 5,
	}
}

// Client fetches listing pages from the aggregator. It implements feed.Fetcher.
type Client struct {
	httpClient  *http.Client
	cache       *cache.Manager
	rateLimiter *ratelimit.Tracker
	breaker     *gobreaker.CircuitBreaker
	baseURL     *url.URL
	config      Config
	logger      zerolog.Logger
}

// New creates a client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("page size must be > 0 (got %d)", cfg.PageSize)
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	cfg.Retry = cfg.Retry.normalized()

	logger := log.With().Str("component", "aggregator-client").Logger()

	c := &Client{
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		rateLimiter: ratelimit.NewTracker(cfg.Redis, logger),
		baseURL:     base,
		config:      cfg,
		logger:      logger,
	}
	if cfg.Redis != nil {
		c.cache = cache.NewManager(cfg.Redis)
	}

	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "aggregator",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Client errors, quota refusals and callers that gave up (cancelled
		// or past their deadline) say nothing about upstream health.
		IsSuccessful: func(err error) bool {
			return err == nil ||
				classify(err) == ErrorClassClient ||
				errors.Is(err, ErrRateLimited) ||
				errors.Is(err, ErrContextCancelled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			upstreamBreakerState.Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})

	return c, nil
}

// FetchPage returns the games on a 1-based page. An empty slice means the
// listing has no games past the previous page.
func (c *Client) FetchPage(ctx context.Context, page int) ([]game.Game, error) {
	if page < 1 {
		return nil, fmt.Errorf("%w (got %d)", ErrInvalidPage, page)
	}

	start := time.Now()
	defer func() {
		upstreamRequestDuration.Observe(time.Since(start).Seconds())
	}()

	key := c.cacheKey(page)
	var cached *cache.Entry
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil && entry.IsFresh():
			games, err := c.decode(entry.Data, page)
			if err == nil {
				cache.Hits.Inc()
				c.logger.Debug().Int("page", page).Str("cache_key", key.String()).Msg("Serving page from cache")
				return games, nil
			}
			c.dropCached(ctx, key, page, err)
		case err == nil:
			cached = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Int("page", page).Msg("Cache get error")
		}
	}

	games, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchUpstream(ctx, page, key, cached)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrCircuitOpen, err)
		}
		return nil, err
	}

	return games.([]game.Game), nil
}

func (c *Client) decode(body []byte, page int) ([]game.Game, error) {
	games, dropped, err := decodeGames(body, c.config.ImageBaseURL)
	if err != nil {
		return nil, &UpstreamError{
			StatusCode: http.StatusOK,
			ErrorClass: ErrorClassDecode,
			Message:    fmt.Sprintf("page %d", page),
			Err:        err,
		}
	}
	if dropped > 0 {
		upstreamDroppedItems.Add(float64(dropped))
		c.logger.Warn().Int("page", page).Int("dropped", dropped).Msg("Dropped listing items without identity")
	}
	return games, nil
}

// dropCached removes a cached page that no longer decodes.
func (c *Client) dropCached(ctx context.Context, key cache.Key, page int, cause error) {
	c.logger.Warn().Err(cause).Int("page", page).Msg("Discarding undecodable cached page")
	if c.cache == nil {
		return
	}
	if err := c.cache.Delete(ctx, key); err != nil {
		c.logger.Warn().Err(err).Int("page", page).Msg("Failed to delete cached page")
	}
}

// fetchUpstream performs the request with retries. The quota is checked
// before every attempt. Errors after the caller's context ended wrap
// ErrContextCancelled.
func (c *Client) fetchUpstream(ctx context.Context, page int, key cache.Key, cached *cache.Entry) ([]game.Game, error) {
	var games []game.Game
	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func(attempt int) error {
		allowed, err := c.rateLimiter.ShouldAllowRequest(ctx)
		if err != nil {
			return fmt.Errorf("rate limit check: %w", err)
		}
		if !allowed {
			upstreamRequestsTotal.WithLabelValues("rate_limited").Inc()
			return ErrRateLimited
		}

		g, err := c.attempt(ctx, page, key, cached)
		if err != nil {
			upstreamErrorsTotal.WithLabelValues(string(classify(err))).Inc()
			return err
		}
		games = g
		return nil
	})
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrContextCancelled) {
			err = fmt.Errorf("%w: %w", ErrContextCancelled, err)
		}
		return nil, err
	}
	return games, nil
}

// attempt sends a single HTTP request.
func (c *Client) attempt(ctx context.Context, page int, key cache.Key, cached *cache.Entry) ([]game.Game, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pageURL(page), nil)
	if err != nil {
		return nil, &UpstreamError{ErrorClass: ErrorClassClient, Message: "build request", Err: err}
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")
	if cached != nil && cached.CanRevalidate() {
		cache.AddConditionalHeaders(req, cached)
		c.logger.Debug().Int("page", page).Str("etag", cached.ETag).Msg("Making conditional request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		upstreamRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, err
	}
	defer resp.Body.Close()

	upstreamRequestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()

	if err := c.rateLimiter.UpdateFromHeaders(ctx, resp.StatusCode, resp.Header); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to update quota from headers")
	}

	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		cache.NotModified.Inc()
		io.Copy(io.Discard, resp.Body)
		games, err := c.decode(cached.Data, page)
		if err != nil {
			c.dropCached(ctx, key, page, err)
			return nil, err
		}
		cache.Hits.Inc()
		if c.cache != nil {
			if err := c.cache.Refresh(ctx, key, cached, cache.Expiry(resp.Header, time.Now())); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to refresh cached page")
			}
		}
		c.logger.Debug().Int("page", page).Msg("304 Not Modified - using cached page")
		return games, nil

	case resp.StatusCode >= 400:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		class := classifyStatus(resp.StatusCode)
		ue := &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: class,
			Message:    resp.Status,
		}
		if class == ErrorClassRateLimit {
			if secs, err := strconv.Atoi(resp.Header.Get(ratelimit.HeaderRetryAfter)); err == nil && secs > 0 {
				ue.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		c.logger.Warn().
			Int("page", page).
			Int("status_code", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Upstream request error")
		return nil, ue

	case resp.StatusCode != http.StatusOK:
		return nil, &UpstreamError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassClient,
			Message:    "unexpected status " + resp.Status,
		}
	}

	entry, err := cache.ResponseToEntry(resp)
	if err != nil {
		return nil, err
	}

	// Only listings are cached.
	games, err := c.decode(entry.Data, page)
	if err != nil {
		c.logger.Warn().Err(err).Int("page", page).Msg("Upstream returned an undecodable page")
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache page")
		} else {
			c.logger.Debug().Int("page", page).Dur("ttl", entry.TTL()).Msg("Cached page")
		}
	}

	return games, nil
}

// listingQuery holds the query parameters that select the listing, without
// paging or credentials.
func (c *Client) listingQuery() url.Values {
	q := url.Values{}
	q.Set("productType", "games")
	if c.config.SortBy != "" {
		q.Set("sortBy", c.config.SortBy)
	}
	return q
}

func (c *Client) cacheKey(page int) cache.Key {
	return cache.Key{
		Path:     c.config.Path,
		Page:     page,
		PageSize: c.config.PageSize,
		Query:    c.listingQuery(),
	}
}

func (c *Client) pageURL(page int) string {
	q := c.listingQuery()
	q.Set("page", strconv.Itoa(page))
	q.Set("offset", strconv.Itoa((page-1)*c.config.PageSize))
	q.Set("limit", strconv.Itoa(c.config.PageSize))
	if c.config.APIKey != "" {
		q.Set("apiKey", c.config.APIKey)
	}

	u := *c.baseURL
	u.Path = u.Path + c.config.Path
	u.RawQuery = q.Encode()
	return u.String()
}

// SetHTTPClient replaces the HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// RateLimiter returns the quota tracker.
func (c *Client) RateLimiter() *ratelimit.Tracker {
	return c.rateLimiter
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
