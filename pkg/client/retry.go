package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig controls retries of a single page request.
type RetryConfig struct {
	// MaxAttempts includes the first attempt.
	MaxAttempts int

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    500 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// initialBackoffFor stretches the first backoff for classes that need more
// breathing room.
func (rc RetryConfig) initialBackoffFor(class ErrorClass) time.Duration {
	switch class {
	case ErrorClassRateLimit:
		return rc.InitialBackoff * 4
	case ErrorClassNetwork:
		return rc.InitialBackoff * 2
	default:
		return rc.InitialBackoff
	}
}

func (rc RetryConfig) normalized() RetryConfig {
	def := DefaultRetryConfig()
	if rc.MaxAttempts <= 0 {
		rc.MaxAttempts = def.MaxAttempts
	}
	if rc.InitialBackoff <= 0 {
		rc.InitialBackoff = def.InitialBackoff
	}
	if rc.MaxBackoff < rc.InitialBackoff {
		rc.MaxBackoff = rc.InitialBackoff
	}
	if rc.BackoffMultiplier < 1 {
		rc.BackoffMultiplier = def.BackoffMultiplier
	}
	return rc
}

// retryWithBackoff runs fn until it succeeds, fails with a non-retriable
// error, or runs out of attempts. Backoff grows exponentially with ±20%
// jitter and never undercuts a Retry-After from upstream; a Retry-After
// longer than MaxBackoff ends the loop with that error. ErrRateLimited from
// fn is returned as is.
func retryWithBackoff(ctx context.Context, cfg RetryConfig, logger zerolog.Logger, fn func(attempt int) error) error {
	cfg = cfg.normalized()

	var (
		lastErr error
		class   ErrorClass
		backoff time.Duration
	)

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(class)).
					Int("attempt", attempt).
					Msg("Upstream request succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
		}

		prev := class
		class = classify(err)
		if !shouldRetry(class) || errors.Is(err, ErrRateLimited) {
			return err
		}
		if attempt >= cfg.MaxAttempts {
			break
		}

		if backoff == 0 || class != prev {
			backoff = cfg.initialBackoffFor(class)
		}

		wait := time.Duration(float64(backoff) * (0.8 + rand.Float64()*0.4))
		if wait > cfg.MaxBackoff {
			wait = cfg.MaxBackoff
		}
		var ue *UpstreamError
		if errors.As(err, &ue) && ue.RetryAfter > 0 {
			if ue.RetryAfter > cfg.MaxBackoff {
				logger.Warn().
					Err(err).
					Int("attempt", attempt).
					Dur("retry_after", ue.RetryAfter).
					Msg("Retry-After exceeds backoff limit, not retrying")
				return err
			}
			if ue.RetryAfter > wait {
				wait = ue.RetryAfter
			}
		}

		upstreamRetriesTotal.WithLabelValues(string(class)).Inc()
		upstreamRetryBackoff.WithLabelValues(string(class)).Observe(wait.Seconds())
		logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", attempt).
			Dur("backoff", wait).
			Msg("Retrying upstream request")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
		case <-timer.C:
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffMultiplier)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	upstreamRetryExhaustedTotal.WithLabelValues(string(class)).Inc()
	logger.Error().
		Err(lastErr).
		Str("error_class", string(class)).
		Int("max_attempts", cfg.MaxAttempts).
		Msg("Upstream retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, cfg.MaxAttempts, lastErr)
}
