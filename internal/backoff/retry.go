package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrAttemptsExhausted is returned when every retry attempt failed.
var ErrAttemptsExhausted = errors.New("retry attempts exhausted")

// Retry executes fn with exponential backoff between failures, up to
// maxAttempts times. fn receives the 1-indexed attempt number. A non-nil
// stop function short-circuits the loop when an error is not worth retrying
// (the original error is returned in that case). Context cancellation is
// honored both between attempts and during the backoff sleep.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	maxAttempts int,
	stop func(error) bool,
	fn func(attempt int) (T, error),
) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := fn(attempt)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if stop != nil && stop(err) {
			return zero, err
		}
		if attempt < maxAttempts {
			if err := sleep(ctx, Compute(policy, attempt)); err != nil {
				return zero, err
			}
		}
	}
	if lastErr != nil {
		return zero, lastErr
	}
	return zero, ErrAttemptsExhausted
}

// sleep blocks for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
