package bootstrap

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig bounds retries of transient control-plane and store failures.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig returns sensible retry defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    5,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
	}
}

// delay calculates exponential backoff delay with jitter
func (c RetryConfig) delay(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt))

	// Apply jitter (±25%)
	jitter := d * 0.25 * (2*rand.Float64() - 1)
	d += jitter

	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// withRetry runs op, retrying while retryable reports the error transient.
// Attempts are bounded by MaxRetries; exhaustion returns the last error.
func withRetry(ctx context.Context, cfg RetryConfig, what string, op func() error, retryable func(error) bool) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) || attempt == cfg.MaxRetries {
			return lastErr
		}
		d := cfg.delay(attempt)
		log.Warn().
			Err(lastErr).
			Str("op", what).
			Int("attempt", attempt+1).
			Int("max_retries", cfg.MaxRetries).
			Dur("delay", d).
			Msg("transient failure, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	return lastErr
}
