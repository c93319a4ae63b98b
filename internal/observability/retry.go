package observability

import (
	"context"
	"fmt"
	"time"
)

// Retry calls fn up to attempts times, returning the first success. Between
// attempts it sleeps a flat wait, with no backoff and no jitter (the bot's
// retry targets are RPC/REST calls, not a thundering-herd-prone fleet). If every attempt fails, Retry returns the
// last error wrapped with the attempt count.
func Retry[T any](ctx context.Context, attempts int, wait time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = fn(ctx)
		if err == nil {
			return result, nil
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(wait):
		}
	}
	return result, fmt.Errorf("failed after %d attempts: %w", attempts, err)
}
