// Package deadline bounds blocking calls that do not accept a context.
//
// go-libvirt RPCs and badger transactions block the calling goroutine until
// they return. Run executes such a call on its own goroutine and gives up
// waiting once the timeout or the parent context expires, reporting
// ErrTimeout instead of hanging the worker.
package deadline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a bounded call did not finish in time.
var ErrTimeout = errors.New("operation timed out")

// Run calls fn and waits at most timeout for it to return.
// A zero timeout only honours ctx.
//
// When the deadline passes the goroutine running fn is abandoned; its result
// is discarded once it eventually returns.
func Run(ctx context.Context, timeout time.Duration, op string, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resultCh := make(chan error, 1)
	go func() {
		resultCh <- fn()
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w after %v", op, ErrTimeout, timeout)
		}
		return fmt.Errorf("%s: %w", op, ctx.Err())
	case err := <-resultCh:
		return err
	}
}

// Value is Run for calls that also produce a result.
func Value[T any](ctx context.Context, timeout time.Duration, op string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	resultCh := make(chan result, 1)

	err := Run(ctx, timeout, op, func() error {
		v, err := fn()
		resultCh <- result{v: v, err: err}
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	res := <-resultCh
	return res.v, nil
}
