// Package retry provides the exponential-backoff loop shared by the AI
// classifiers and the record store.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Config bounds one retry loop.
type Config struct {
	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // first backoff delay
	MaxDelay   time.Duration // backoff cap
}

// Default matches the pipeline contract: exponential backoff with base
// 500 ms, cap 5 s, jitter ±20%.
func Default(maxRetries int) Config {
	return Config{
		MaxRetries: maxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}
}

// Hinter is implemented by errors that carry a server-provided wait
// hint, such as a rate-limit Retry-After.
type Hinter interface {
	RetryAfterHint() time.Duration
}

// Do runs fn up to 1+MaxRetries times with exponential backoff and
// jitter. Cancellation is observed between attempts. When the returned
// error carries a wait hint, the hint replaces the computed backoff for
// that step.
func Do(ctx context.Context, cfg Config, fn func(context.Context) error) error {
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxRetries {
			break
		}

		wait := delay
		var h Hinter
		if errors.As(lastErr, &h) && h.RetryAfterHint() > 0 {
			wait = h.RetryAfterHint()
		}
		// Jitter ±20% to avoid synchronized retries.
		jitter := time.Duration((rand.Float64()*0.4 - 0.2) * float64(wait))
		wait += jitter

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}
