package session

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var ErrRetriesExhausted = errors.New("session: retries exhausted")

// NextBackoffDelay returns the retry delay for attempt N (1-based).
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		f := 0.5
		if rng != nil {
			f = 0.5 + rng.Float64()
		}
		delay *= f
	}
	return time.Duration(delay)
}

// Retry calls fn until it succeeds, ctx ends, or MaxAttempts is reached.
// A zero MaxAttempts retries until ctx ends.
func Retry(ctx context.Context, cfg BackoffConfig, rng *rand.Rand, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; cfg.MaxAttempts <= 0 || attempt <= cfg.MaxAttempts; attempt++ {
		if lastErr = fn(attempt); lastErr == nil {
			return nil
		}
		if cfg.MaxAttempts > 0 && attempt == cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(NextBackoffDelay(cfg, attempt, rng))
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return errors.Join(ErrRetriesExhausted, lastErr)
}
