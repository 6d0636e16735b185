// Package resilience provides the timeout combinator shared by the mesh components.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/skillmesh/types"
)

// WithTimeout runs fn with a deadline. The first of fn's completion, the
// deadline or parent cancellation wins; fn receives a context that is
// cancelled as soon as the race is decided so the loser can release its
// resources. A zero duration disables the deadline.
func WithTimeout[T any](ctx context.Context, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if d <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()

	select {
	case res := <-done:
		// fn may notice the deadline before this select does.
		if res.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, timeoutError(d, ctx.Err())
		}
		return res.value, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, timeoutError(d, ctx.Err())
		}
		return zero, ctx.Err()
	}
}

func timeoutError(d time.Duration, cause error) error {
	return types.Errorf(types.ErrTimeout, "operation exceeded timeout %s", d).
		WithCause(cause).
		WithRetryable(true)
}

// Timer is a restartable single-shot timer whose callback fires at most once
// per arming. Stop reports whether it prevented the callback.
type Timer struct {
	t *time.Timer
}

// AfterFunc arms a timer that calls fn after d.
func AfterFunc(d time.Duration, fn func()) *Timer {
	return &Timer{t: time.AfterFunc(d, fn)}
}

// Stop cancels the timer. It is safe on a nil Timer.
func (t *Timer) Stop() bool {
	if t == nil || t.t == nil {
		return false
	}
	return t.t.Stop()
}
