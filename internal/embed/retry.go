package embed

import (
	"context"
	"time"
)

// retryBase is the delay before the first reattempt; each subsequent
// one doubles, capped at retryCap. Embedding backends fail transiently
// when the host is loading a model or shedding memory pressure, so a
// couple of spaced retries usually ride it out.
const (
	retryBase = 500 * time.Millisecond
	retryCap  = 8 * time.Second
)

// withRetry runs fn up to 1+retries times, sleeping with doubling
// backoff between attempts. The context cancels the wait as well as the
// attempts.
func withRetry(ctx context.Context, retries int, fn func() error) error {
	delay := retryBase
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= retries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryCap {
			delay = retryCap
		}
	}
}
