package qmresults

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunUntilContextDeadlineIsWaitTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := runUntil(ctx, "result I", time.Minute, func(context.Context) (bool, error) { return false, nil })
	var te *TimeoutError
	if !errors.As(err, &te) || te.Kind != TimeoutWait {
		t.Fatalf("expected wait timeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("timeout does not wrap the deadline: %v", err)
	}
}

func TestRunUntilCancelPassesThrough(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := runUntil(ctx, "result I", time.Minute, func(context.Context) (bool, error) {
		calls++
		cancel()
		return false, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		t.Fatalf("cancellation reported as timeout: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one poll, got %d", calls)
	}
}

func TestRunUntilCondError(t *testing.T) {
	boom := errors.New("boom")
	err := runUntil(context.Background(), "result I", time.Minute, func(context.Context) (bool, error) { return false, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected cond error, got %v", err)
	}
}
