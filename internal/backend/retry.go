package backend

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the retries around a single backend call.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	// Values below 1 mean a single attempt.
	MaxAttempts int

	// InitialInterval is the first backoff delay.
	InitialInterval time.Duration

	// MaxInterval caps the backoff delay.
	MaxInterval time.Duration
}

// NoRetry performs exactly one attempt.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		eb.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		eb.MaxInterval = p.MaxInterval
	}
	// Attempts bound the loop, not wall time.
	eb.MaxElapsedTime = 0

	retries := 0
	if p.MaxAttempts > 1 {
		retries = p.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
}

// Retry calls fn until it succeeds, returns a non-retryable error, or the
// policy is exhausted. Only retryable ConnectivityErrors are repeated.
func Retry[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var result T
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		v, err := fn(ctx)
		if err != nil {
			if IsRetryable(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = v
		return nil
	}, p.backOff(ctx), func(err error, wait time.Duration) {
		logger.Warn("backend call failed, retrying",
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
