package external

import (
	"context"
	"errors"
	"time"
)

const (
	retryInitial  = 500 * time.Millisecond
	retryMax      = 8 * time.Second
	retryAttempts = 4
)

// WithRetry retries transient calendar failures with exponential
// backoff up to a bounded attempt count. Auth failures and anything
// else non-transient return immediately.
func WithRetry(ctx context.Context, fn func() error) error {
	delay := retryInitial
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrTransient) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > retryMax {
			delay = retryMax
		}
	}
	return err
}
