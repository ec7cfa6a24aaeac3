package client

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ForErrorClass returns the policy for an error class derived from r.
// Rate limit responses wait longer; client errors are attempted once.
func (r RetryConfig) ForErrorClass(errorClass ErrorClass) RetryConfig {
	switch errorClass {
	case ErrorClassServer:
		cfg := r
		if cfg.MaxBackoff > 10*cfg.InitialBackoff {
			cfg.MaxBackoff = 10 * cfg.InitialBackoff
		}
		return cfg
	case ErrorClassRateLimit:
		cfg := r
		cfg.InitialBackoff = 5 * r.InitialBackoff
		cfg.MaxBackoff = 2 * r.MaxBackoff
		return cfg
	case ErrorClassNetwork:
		cfg := r
		cfg.InitialBackoff = 2 * r.InitialBackoff
		return cfg
	default:
		cfg := r
		cfg.MaxAttempts = 1
		return cfg
	}
}

// backoff returns the wait before the attempt following attempt n (1-based).
func (r RetryConfig) backoff(n int) time.Duration {
	d := r.InitialBackoff
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * r.BackoffMultiplier)
		if d > r.MaxBackoff {
			return r.MaxBackoff
		}
	}
	if d > r.MaxBackoff {
		return r.MaxBackoff
	}
	return d
}

// retryWithBackoff executes fn until it succeeds, returns a non-retryable
// error, or the policy for the error's class is exhausted. Waits carry ±20%
// jitter and end early when ctx is done.
func retryWithBackoff(ctx context.Context, logger zerolog.Logger, base RetryConfig, fn func() error) error {
	var lastErr error
	var errorClass ErrorClass
	var config RetryConfig

	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info().
					Str("error_class", string(errorClass)).
					Int("attempt", attempt).
					Msg("Request succeeded after retry")
			}
			return nil
		}

		lastErr = err
		errorClass = classOf(err)

		if !shouldRetry(errorClass) {
			return lastErr
		}

		config = base.ForErrorClass(errorClass)
		if attempt >= config.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("max_attempts", config.MaxAttempts).
				Msg("Retry attempts exhausted")
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryExhausted, attempt, lastErr)
		}

		retriesTotal.WithLabelValues(string(errorClass)).Inc()

		jitter := time.Duration(float64(config.backoff(attempt)) * (0.8 + rand.Float64()*0.4))
		retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

		logger.Debug().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Dur("backoff", jitter).
			Msg("Retrying request after backoff")

		timer := time.NewTimer(jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Warn().
				Str("error_class", string(errorClass)).
				Int("attempt", attempt).
				Msg("Context cancelled during retry backoff")
			return fmt.Errorf("%w: %w (last error: %v)", ErrContextCancelled, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
}
