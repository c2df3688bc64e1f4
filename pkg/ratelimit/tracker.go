package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisKey holds the JSON encoded State.
const RedisKey = "latest-games:ratelimit:state"

// Header names reported by the aggregator.
const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

var (
	quotaRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "latest_games_upstream_quota_remaining",
		Help: "Requests remaining in the aggregator's current rate limit window",
	})

	blockedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_upstream_blocked_total",
		Help: "Requests refused locally because the aggregator quota was spent",
	})

	throttledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "latest_games_upstream_throttled_total",
		Help: "Requests delayed because the aggregator quota was low",
	})
)

// Tracker keeps the aggregator quota and decides whether a request may go out.
// With a nil Redis client the state is kept in memory.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger

	mu            sync.Mutex
	throttleDelay time.Duration
	local         *State
}

// NewTracker creates a tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:         redisClient,
		logger:        logger,
		throttleDelay: time.Second,
	}
}

// SetThrottleDelay changes the pause applied in the warning zone. Safe to
// call while requests are in flight.
func (t *Tracker) SetThrottleDelay(d time.Duration) {
	t.mu.Lock()
	t.throttleDelay = d
	t.mu.Unlock()
}

func (t *Tracker) throttle() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.throttleDelay
}

// GetState returns the stored state, or DefaultState when none is known.
func (t *Tracker) GetState(ctx context.Context) (State, error) {
	if t.redis == nil {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.local == nil {
			return DefaultState(), nil
		}
		return *t.local, nil
	}

	data, err := t.redis.Get(ctx, RedisKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return DefaultState(), nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get rate limit state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return State{}, fmt.Errorf("decode rate limit state: %w", err)
	}
	return s, nil
}

func (t *Tracker) store(ctx context.Context, s State) error {
	quotaRemaining.Set(float64(s.Remaining))

	if t.redis == nil {
		t.mu.Lock()
		t.local = &s
		t.mu.Unlock()
		return nil
	}

	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode rate limit state: %w", err)
	}

	// Keep the key around a little past the window so stale state expires on its own.
	ttl := time.Until(s.ResetAt)
	if until := time.Until(s.BlockedUntil); until > ttl {
		ttl = until
	}
	ttl += time.Minute

	if err := t.redis.Set(ctx, RedisKey, data, ttl).Err(); err != nil {
		return fmt.Errorf("store rate limit state: %w", err)
	}
	return nil
}

// UpdateFromHeaders records the quota reported on a response. Responses
// without quota headers leave the state alone.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, statusCode int, headers http.Header) error {
	now := time.Now()

	remainStr := headers.Get(HeaderRemaining)
	retryAfter, hasRetryAfter := parseRetryAfter(headers.Get(HeaderRetryAfter), now)
	if remainStr == "" && !(statusCode == http.StatusTooManyRequests && hasRetryAfter) {
		return nil
	}

	s, err := t.GetState(ctx)
	if err != nil {
		return err
	}

	if remainStr != "" {
		remain, err := strconv.Atoi(remainStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
		}
		resetStr := headers.Get(HeaderReset)
		if resetStr == "" {
			return fmt.Errorf("%s header missing", HeaderReset)
		}
		resetSecs, err := strconv.Atoi(resetStr)
		if err != nil {
			return fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		s.Remaining = remain
		s.ResetAt = now.Add(time.Duration(resetSecs) * time.Second)
	}

	if statusCode == http.StatusTooManyRequests && hasRetryAfter {
		s.BlockedUntil = retryAfter
	}
	s.LastUpdate = now

	if err := t.store(ctx, s); err != nil {
		return err
	}

	switch {
	case s.Blocked(now):
		t.logger.Error().
			Int("remaining", s.Remaining).
			Time("blocked_until", now.Add(s.WaitDuration(now))).
			Msg("Upstream quota exhausted - requests will be blocked")
	case s.Throttled(now):
		t.logger.Warn().
			Int("remaining", s.Remaining).
			Time("reset_at", s.ResetAt).
			Msg("Upstream quota low - requests will be throttled")
	default:
		t.logger.Debug().
			Int("remaining", s.Remaining).
			Time("reset_at", s.ResetAt).
			Msg("Upstream quota updated")
	}

	return nil
}

// ShouldAllowRequest returns false when the quota is spent. In the warning
// zone it waits throttleDelay first, returning early if ctx ends.
func (t *Tracker) ShouldAllowRequest(ctx context.Context) (bool, error) {
	s, err := t.GetState(ctx)
	if err != nil {
		return false, err
	}

	now := time.Now()
	if s.Blocked(now) {
		blockedTotal.Inc()
		t.logger.Warn().
			Int("remaining", s.Remaining).
			Dur("wait", s.WaitDuration(now)).
			Msg("Request blocked by upstream quota")
		return false, nil
	}

	if delay := t.throttle(); s.Throttled(now) && delay > 0 {
		throttledTotal.Inc()
		t.logger.Debug().Int("remaining", s.Remaining).Msg("Throttling request")

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

// parseRetryAfter accepts delta seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return now.Add(time.Duration(secs) * time.Second), true
	}
	if t, err := http.ParseTime(v); err == nil {
		return t, true
	}
	return time.Time{}, false
}
