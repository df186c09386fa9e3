package reconciler

import (
	"context"
	"time"
)

// poll calls fn immediately and then at the given interval until it
// succeeds, fails with a non-retryable error, exceeds the timeout, or
// the context is cancelled. A zero timeout means no bound. The sleep
// and clock functions are injected so tests run without wall-clock
// delay.
func (r *Reconciler) poll(ctx context.Context, op string, timeout, interval time.Duration, retryable func(error) bool, fn func(context.Context) error) error {
	start := r.now()
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if timeout > 0 && r.now().Sub(start) > timeout {
			return &TimeoutError{Op: op, Timeout: timeout, Err: err}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.sleep(interval)
	}
}
