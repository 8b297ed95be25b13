// Package retry provides retry loops with fixed or exponential pauses.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/bardlex/gominer/pkg/errors"
)

// Config holds retry configuration.
// MaxAttempts <= 0 retries until the context ends or OnRetry stops the loop.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      bool

	// OnRetry runs after a retryable failure, before the pause.
	// A non-nil return ends the loop with that error.
	OnRetry func(attempt int, err error) error
}

// DefaultConfig returns a sensible default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// PoolConfig returns the fixed-pause policy used against mining pools.
// retries < 0 means retry forever; otherwise retries+1 attempts are made.
func PoolConfig(retries int, pause time.Duration) *Config {
	attempts := retries + 1
	if retries < 0 {
		attempts = 0
	}
	return &Config{
		MaxAttempts: attempts,
		BaseDelay:   pause,
		MaxDelay:    pause,
		Multiplier:  1,
	}
}

// SinkConfig returns retry configuration for telemetry sinks
func SinkConfig() *Config {
	return &Config{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    3 * time.Second,
		Multiplier:  2.0,
		Jitter:      true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func() error

// Do executes a function with retry logic
func Do(ctx context.Context, config *Config, fn RetryableFunc) error {
	_, err := DoWithResult(ctx, config, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult executes a function with retry logic and returns a result
func DoWithResult[T any](ctx context.Context, config *Config, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	if config == nil {
		config = DefaultConfig()
	}

	for attempt := 0; config.MaxAttempts <= 0 || attempt < config.MaxAttempts; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return zero, err
		}

		if config.MaxAttempts > 0 && attempt == config.MaxAttempts-1 {
			break
		}

		if config.OnRetry != nil {
			if stop := config.OnRetry(attempt, err); stop != nil {
				return zero, stop
			}
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(config.calculateDelay(attempt)):
		}
	}

	return zero, errors.Wrap(lastErr, errors.ErrorTypeExhausted, "retry",
		"operation failed after maximum retry attempts").
		WithContext("max_attempts", config.MaxAttempts).
		WithRetryable(false)
}

func (c *Config) calculateDelay(attempt int) time.Duration {
	mult := c.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(c.BaseDelay) * math.Pow(mult, float64(attempt))
	if c.MaxDelay > 0 {
		delay = min(delay, float64(c.MaxDelay))
	}

	if c.Jitter {
		// up to 10% extra
		delay += delay * 0.1 * rand.Float64()
	}

	return time.Duration(delay)
}
