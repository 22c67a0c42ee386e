package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Config controls the backoff schedule for retried calls
type Config struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	JitterFraction    float64
}

// DefaultConfig returns the schedule used for media server and
// orchestrator API calls
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       3,
		InitialBackoff:    250 * time.Millisecond,
		MaxBackoff:        15 * time.Second,
		BackoffMultiplier: 2.0,
		JitterFraction:    0.2,
	}
}

// IsRetryable reports whether a failed call is worth repeating
type IsRetryable func(error) bool

// Do runs fn until it succeeds, the error is terminal, or attempts run out.
// The context is honored between attempts, not inside fn.
func Do(ctx context.Context, cfg Config, fn func() error, isRetryable IsRetryable) error {
	_, err := DoWithResult(ctx, cfg, func() (struct{}, error) {
		return struct{}{}, fn()
	}, isRetryable)
	return err
}

// DoWithResult is Do for calls that produce a value
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error), isRetryable IsRetryable) (T, error) {
	var result T
	var err error

	for attempt := 1; ; attempt++ {
		result, err = fn()
		if err == nil {
			return result, nil
		}
		if !isRetryable(err) || attempt >= cfg.MaxAttempts {
			return result, err
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(Backoff(attempt, cfg)):
		}
	}
}

// Backoff returns the sleep before the attempt following the given one,
// jittered to keep callers from retrying in lockstep
func Backoff(attempt int, cfg Config) time.Duration {
	if attempt <= 0 {
		return 0
	}

	base := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if capped := float64(cfg.MaxBackoff); base > capped {
		base = capped
	}

	if cfg.JitterFraction > 0 {
		base += (rand.Float64()*2 - 1) * base * cfg.JitterFraction
		if base < 0 {
			base = 0
		}
	}

	return time.Duration(base)
}
