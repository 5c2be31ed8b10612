package infra

import (
	"context"
	"log/slog"
	"time"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// CalculateBackoff returns baseDelay * 2^retryCount capped at maxDelay.
// Negative counts return baseDelay.
func CalculateBackoff(retryCount int) time.Duration {
	if retryCount < 0 {
		return baseDelay
	}
	// 2^30 seconds is far past maxDelay; avoid shifting further.
	if retryCount > 30 {
		return maxDelay
	}
	backoff := baseDelay * time.Duration(1<<retryCount)
	if backoff > maxDelay {
		return maxDelay
	}
	return backoff
}

// Retry calls fn up to attempts times, sleeping CalculateBackoff(i) between failures.
// It returns the last error, or ctx.Err() when the context ends while waiting.
func Retry(ctx context.Context, name string, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			delay := CalculateBackoff(i - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		slog.Warn("RETRYABLE_CALL_FAILED",
			slog.String("call", name),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
	}
	return err
}
