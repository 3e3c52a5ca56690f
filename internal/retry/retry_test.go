package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	wantErr := errors.New("still broken")
	calls := 0
	err := Do(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("expected final error, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	inner := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), 5, time.Millisecond, func() error {
		calls++
		return Permanent(inner)
	})
	if !errors.Is(err, inner) {
		t.Errorf("expected unwrapped permanent error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("permanent error should not retry, got %d calls", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, 5, 10*time.Second, func() error {
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoZeroAttemptsStillCallsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	})
	if calls != 1 {
		t.Errorf("expected 1 call with maxAttempts 0, got %d", calls)
	}
}
