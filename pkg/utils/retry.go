package utils

import (
	"context"
	"fmt"
	"time"
)

// CallWithRetry calls a function, retrying maxAttempts times if it returns an error.
// If after maxAttempts the function still returns an error, it returns the zero value of T and the error.
func CallWithRetry[T any](ctx context.Context, fn func() (T, error), maxAttempts int, backoff time.Duration) (T, error) {
	var err error
	for i := 0; i < maxAttempts; i++ {
		var t T
		t, err = fn()
		if err == nil {
			return t, nil
		}
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(backoff):
		}
	}
	var zero T
	return zero, fmt.Errorf("failed to call with retry: %w", err)
}

// RetryFixedDelay calls fn until it succeeds, waiting delay between attempts.
// It only gives up when the context is cancelled. onAttemptFailure is called
// with each error before the next attempt, and may be nil.
func RetryFixedDelay(ctx context.Context, fn func() error, delay time.Duration, onAttemptFailure func(error)) error {
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if onAttemptFailure != nil {
			onAttemptFailure(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}
