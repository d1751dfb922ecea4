// Package retry provides exponential backoff retry logic with jitter for
// the network adapters (IMAP, ManageSieve, S3).
//
// # Usage
//
//	cfg := retry.DefaultBackoffConfig()
//	err := retry.WithRetry(ctx, "imap_login", cfg, func() error {
//		return c.Login(user, pass).Wait()
//	})
//
// Returning retry.Stop(err) from the function ends the loop at once and
// returns err unwrapped; use it for failures a retry cannot fix, such as
// rejected credentials.
//
// # Jitter
//
// With jitter enabled the delay is baseDelay * (0.5 + random(0, 0.5)).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/migadu/sieveforge/config"
	"github.com/migadu/sieveforge/logger"
	"github.com/migadu/sieveforge/pkg/metrics"
)

type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          bool
	MaxRetries      int
}

func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
		MaxRetries:      3,
	}
}

// FromConfig converts the [retry] section. Jitter is always on.
func FromConfig(c config.RetryConfig) (BackoffConfig, error) {
	initial, err := c.GetInitialInterval()
	if err != nil {
		return BackoffConfig{}, fmt.Errorf("retry.initial_interval: %w", err)
	}
	maxInterval, err := c.GetMaxInterval()
	if err != nil {
		return BackoffConfig{}, fmt.Errorf("retry.max_interval: %w", err)
	}
	multiplier := c.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	return BackoffConfig{
		InitialInterval: initial,
		MaxInterval:     maxInterval,
		Multiplier:      multiplier,
		Jitter:          true,
		MaxRetries:      c.MaxRetries,
	}, nil
}

// ExponentialBackoff returns the delay before the given retry attempt
// (1-based), capped at MaxInterval.
func ExponentialBackoff(config BackoffConfig) func(int) time.Duration {
	return func(attempt int) time.Duration {
		if attempt <= 0 {
			return config.InitialInterval
		}

		interval := float64(config.InitialInterval) * math.Pow(config.Multiplier, float64(attempt-1))
		if interval > float64(config.MaxInterval) {
			interval = float64(config.MaxInterval)
		}
		duration := time.Duration(interval)

		if config.Jitter && duration >= 2 {
			jitter := time.Duration(rand.Int63n(int64(duration / 2)))
			duration = duration/2 + jitter
		}
		return duration
	}
}

type RetryableFunc func() error

// WithRetry calls fn until it succeeds, returns a StopError, or MaxRetries
// retries have failed. op labels the retry metric and log lines.
func WithRetry(ctx context.Context, op string, config BackoffConfig, fn RetryableFunc) error {
	backoff := ExponentialBackoff(config)

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		attempts = attempt + 1
		if attempt > 0 {
			metrics.RetryAttempts.WithLabelValues(op).Inc()
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled by context: %w", ctx.Err())
			case <-time.After(backoff(attempt)):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		var stopErr StopError
		if errors.As(err, &stopErr) {
			logger.Debug("Retry stopped", "operation", op, "attempt", attempts, "error", stopErr.Err)
			return stopErr.Err
		}
		lastErr = err
		logger.Debug("Attempt failed", "operation", op, "attempt", attempts, "max_attempts", config.MaxRetries+1, "error", err)
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, lastErr)
}

// StopError wraps an error to indicate that retries should stop immediately
type StopError struct {
	Err error
}

func (s StopError) Error() string {
	return s.Err.Error()
}

func (s StopError) Unwrap() error {
	return s.Err
}

// Stop wraps an error to indicate that retries should stop immediately
func Stop(err error) error {
	return StopError{Err: err}
}

// IsStopError checks if an error is a StopError
func IsStopError(err error) bool {
	var stopErr StopError
	return errors.As(err, &stopErr)
}
