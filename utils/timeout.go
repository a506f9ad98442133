package utils

import (
	"context"
	"errors"
	"time"
)

var ErrCallTimeout = errors.New("call timed out")

// RaceTimeout stretches the nominal timeout by margin so the racing timer
// fires after a well-behaved remote has given up on its own.
func RaceTimeout(nominal time.Duration, margin float64) time.Duration {
	if margin < 1 {
		margin = 1
	}
	return time.Duration(float64(nominal) * margin)
}

// CallWithTimeout runs fn in its own goroutine and returns ErrCallTimeout if
// it has not settled within timeout. The call itself is not cancelled; a late
// result is dropped into a buffered channel and discarded.
func CallWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}

	ch := make(chan result, 1)
	go func() {
		val, err := fn(ctx)
		ch <- result{val: val, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-ch:
		return r.val, r.err
	case <-timer.C:
		return zero, ErrCallTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
