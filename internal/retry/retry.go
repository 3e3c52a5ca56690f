// Package retry provides a small retry helper with exponential backoff and jitter.
package retry

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// PermanentError wraps an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not retryable; Do returns it immediately.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Do calls fn up to maxAttempts times, sleeping between attempts with
// exponential backoff (baseDelay doubled per retry, ±25% jitter). It stops
// early on success, on a *PermanentError, or when ctx is cancelled.
func Do(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return pe.Err
		}

		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered(delay)):
		}
		delay *= 2
	}

	return err
}

// jittered spreads a delay uniformly over [0.75d, 1.25d] so synchronized
// callers don't retry in lockstep.
func jittered(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	quarter := d / 4
	return d - quarter + rand.N(2*quarter+1)
}
