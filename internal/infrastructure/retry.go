package infrastructure

import (
	"context"
	"log/slog"
	"time"

	"featureflow/internal/config"
	apperrors "featureflow/internal/errors"
)

// RetryPolicy is an exponential backoff schedule
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// OnRetry is called before each wait; it may be nil.
	OnRetry func(ctx context.Context, attempt int, delay time.Duration, err error)
}

// RetryPolicyFrom maps the retry section of the application config
func RetryPolicyFrom(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
	}
}

// Delay returns the wait before attempt+1, capped at MaxDelay
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
		if p.MaxDelay > 0 && time.Duration(delay) >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(delay) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Retry runs fn with backoff while it keeps failing with an error classified by
// apperrors.IsRetryable. Cancelling ctx aborts the wait between attempts.
func Retry(ctx context.Context, p RetryPolicy, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !apperrors.IsRetryable(lastErr) || attempt == attempts {
			return lastErr
		}

		delay := p.Delay(attempt)
		GetLogger().WarnContext(ctx, "retrying",
			slog.String("operation", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("delay", delay),
			slog.String("error", lastErr.Error()))
		if p.OnRetry != nil {
			p.OnRetry(ctx, attempt, delay, lastErr)
		}

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return apperrors.NewUpstreamUnavailableError(op+" cancelled during backoff", ctx.Err())
		}
	}
	return lastErr
}
