package pipeline

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/dgallion1/docindex/internal/vectorindex"
)

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	return vectorindex.IsRetryable(err)
}

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * time.Second
	if base > 30*time.Second {
		base = 30 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

const MaxRetries = 3

// withRetry runs op until it succeeds, fails with a non-retryable error,
// or MaxRetries attempts are used.
func withRetry(ctx context.Context, backoff func(int) time.Duration, op func() error, onRetry func(attempt int, err error)) error {
	var err error
	for attempt := range MaxRetries {
		if err = op(); err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == MaxRetries-1 {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
