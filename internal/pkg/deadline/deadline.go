// Package deadline races an operation against a fixed timer.
package deadline

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned by Run when the timer fires before op completes.
var ErrTimeout = errors.New("deadline exceeded")

type result[T any] struct {
	val T
	err error
}

// Run executes op and returns whichever finishes first: op or a timer of d.
// On timeout the context passed to op is cancelled and ErrTimeout is
// returned; op keeps running in its goroutine and its result is discarded.
// A cancelled parent context is reported as ctx.Err().
func Run[T any](ctx context.Context, d time.Duration, op func(ctx context.Context) (T, error)) (T, error) {
	opCtx, cancel := context.WithCancel(ctx)
	done := make(chan result[T], 1)
	go func() {
		v, err := op(opCtx)
		done <- result[T]{val: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		cancel()
		return r.val, r.err
	case <-timer.C:
		cancel()
		return zero, ErrTimeout
	case <-ctx.Done():
		cancel()
		return zero, ctx.Err()
	}
}

// IsTimeout reports whether err came from a Run timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}
