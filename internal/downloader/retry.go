package downloader

import (
	"context"
	"errors"
	"time"
)

// backoff returns base doubled attempt times (0-indexed), capped at limit.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

// retryWithBackoff runs op up to attempts times, sleeping between failed
// attempts. Context errors and permanent errors end the loop early. The
// last error is returned.
func retryWithBackoff(ctx context.Context, attempts int, base, limit time.Duration, op func(attempt int) error, onRetry func(attempt int, wait time.Duration, err error)) error {
	attempts = max(attempts, 1)

	var err error
	for attempt := range attempts {
		if err = op(attempt); err == nil {
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || isPermanent(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		wait := backoff(base, limit, attempt)
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}
