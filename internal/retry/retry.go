// Package retry runs an operation with exponential backoff. The bridge uses it
// for the initial dial in connect mode, where the packager may still be
// starting up.
//
// The backoff before attempt n (n >= 1, zero-based) is InitialBackoff * 2^(n-1),
// capped at MaxBackoff, plus an optional jitter that grows with the attempt
// number. A canceled context ends the loop immediately.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior.
type Config struct {
	// MaxRetries is the total number of attempts. Values below 1 mean one attempt.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter adds up to this fraction of the backoff (0.0 to 1.0), scaled by
	// attempt / MaxRetries.
	Jitter float64

	// OnRetry, if set, is called before each backoff with the failed attempt
	// number (starting at 1), its error and the wait that follows.
	OnRetry func(attempt int, err error, backoff time.Duration)
}

// ShouldRetryFunc reports whether an error is worth another attempt.
// A nil ShouldRetryFunc retries every error.
type ShouldRetryFunc func(error) bool

// Do calls fn until it succeeds, shouldRetry rejects its error, the attempts
// are exhausted, or ctx is done.
//
// A rejected error is returned as is. Exhaustion returns an error wrapping the
// last failure. Cancellation returns ctx.Err().
func Do(ctx context.Context, cfg Config, fn func() error, shouldRetry ShouldRetryFunc) error {
	attempts := cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := calculateBackoff(cfg, attempt)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr, backoff)
			}

			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// calculateBackoff returns the wait before the given attempt (attempt >= 1).
func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 && cfg.MaxRetries > 0 {
		jitterAmount := float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries)
		backoff += time.Duration(jitterAmount)
	}

	return backoff
}
