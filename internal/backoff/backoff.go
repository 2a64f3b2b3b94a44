// Package backoff retries transient failures with exponential delays.
package backoff

import (
	"context"
	"time"
)

// Config controls the retry schedule.
type Config struct {
	// InitialDelay is the delay after the first failed attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponentially growing delay.
	MaxDelay time.Duration

	// MaxAttempts bounds the number of attempts; 0 means unbounded.
	MaxAttempts int

	// Multiplier grows the delay between attempts; values <= 1 default to 2.
	Multiplier float64
}

// DefaultConfig returns the retry schedule used by the buffer allocator when
// the pool is temporarily out of budget.
func DefaultConfig() Config {
	return Config{
		InitialDelay: 100 * time.Microsecond,
		MaxDelay:     50 * time.Millisecond,
		MaxAttempts:  64,
		Multiplier:   2,
	}
}

// Retry invokes fn until it succeeds, the attempt budget is exhausted or the
// context is cancelled. When the attempts run out, fn's last error is
// returned; when the context is cancelled, the context's error.
func Retry(ctx context.Context, cfg Config, fn func() error) error {
	delay := cfg.InitialDelay
	if delay <= 0 {
		delay = DefaultConfig().InitialDelay
	}
	mult := cfg.Multiplier
	if mult <= 1 {
		mult = 2
	}

	var err error
	for attempt := 0; cfg.MaxAttempts == 0 || attempt < cfg.MaxAttempts; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * mult)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
