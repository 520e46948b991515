// Copyright 2025 Certen Protocol
//
// Package retry implements the single reusable retry helper used by every
// chain-gateway call site, instead of a hand-rolled loop per call, per the
// DVN/Executor design notes.
package retry

import (
	"context"
	"errors"
	"time"
)

// ErrMaxRetriesReached is returned once the configured attempt budget is
// exhausted without a non-retryable outcome.
var ErrMaxRetriesReached = errors.New("retry: max retries reached")

// IsRetryable classifies an error returned by fn as retryable or terminal.
type IsRetryable func(err error) bool

// Do calls fn up to maxAttempts times, sleeping backoff between attempts,
// until fn succeeds, returns a non-retryable error, or the context is
// cancelled. maxAttempts <= 0 is treated as 1.
func Do(ctx context.Context, maxAttempts int, backoff time.Duration, isRetryable IsRetryable, fn func(ctx context.Context) error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	if isRetryable == nil {
		isRetryable = func(error) bool { return true }
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return errors.Join(ErrMaxRetriesReached, lastErr)
}
