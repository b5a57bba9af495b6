package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config configures retries with exponential backoff
type Config struct {
	// MaxRetries is the number of attempts after the first one
	MaxRetries int

	InitialDelay time.Duration
	MaxDelay     time.Duration

	// Multiplier grows the delay after each failed attempt
	Multiplier float64
}

// DefaultConfig returns the backoff used for initial loads
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		InitialDelay: time.Second,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Exponential returns an unbounded, jitter-free exponential backoff starting
// at initial and capped at maxDelay
func Exponential(initial, maxDelay time.Duration, multiplier float64) *backoff.ExponentialBackOff {
	if multiplier < 1 {
		multiplier = 1
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          multiplier,
		MaxInterval:         maxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// BackOff builds the policy for cfg, bounded by MaxRetries and ctx
func (c Config) BackOff(ctx context.Context) backoff.BackOffContext {
	b := Exponential(c.InitialDelay, c.MaxDelay, c.Multiplier)
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.MaxRetries, 0))), ctx)
}

// Do runs fn until it succeeds, the retries run out, or ctx is done
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	_, err := DoResult(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoResult is Do for functions returning a value
func DoResult[T any](ctx context.Context, cfg Config, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := backoff.Retry(func() error {
		res, err := fn(ctx)
		result = res
		return err
	}, cfg.BackOff(ctx))

	switch {
	case err == nil:
		return result, nil
	case ctx.Err() != nil:
		return result, fmt.Errorf("retry cancelled: %w", err)
	default:
		return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, err)
	}
}
