package qmresults

import (
	"context"
	"errors"
	"time"
)

// DefaultTimeout is used wherever no positive timeout is given. It is very
// long but finite; some transports misbehave on unbounded deadlines.
const DefaultTimeout = 2_000_000 * time.Second

const (
	pollInitial = 10 * time.Millisecond
	pollMax     = time.Second
)

func effectiveTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTimeout
	}
	return d
}

// runUntil calls cond until it reports true, sleeping with a doubling
// interval between calls. Reaching the timeout yields a wait TimeoutError
// naming op; cond errors and cancellation of ctx end the loop immediately.
// A ctx deadline reached between polls is also a wait TimeoutError.
func runUntil(ctx context.Context, op string, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(effectiveTimeout(timeout))
	interval := pollInitial
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		ok, err := cond(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &TimeoutError{Kind: TimeoutWait, Op: op}
		}
		timer.Reset(min(interval, remaining))
		select {
		case <-ctx.Done():
			return waitContextErr(op, ctx.Err())
		case <-timer.C:
		}
		interval = min(interval*2, pollMax)
	}
}

// waitContextErr types a ctx deadline hit while waiting. Cancellation is
// passed through unchanged.
func waitContextErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Kind: TimeoutWait, Op: op, Err: err}
	}
	return err
}
