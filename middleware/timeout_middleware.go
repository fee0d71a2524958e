package middleware

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TimeOutMiddleware gives each handler a deadline. The handler still runs inline; it is
// expected to honour ctx, and nested calls it makes inherit the deadline. A handler that
// returns after the deadline is reported as ErrTimeout.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			err := next(ctx, call)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if err == nil || errors.Is(err, context.DeadlineExceeded) {
					return fmt.Errorf("%w: %s after %s", ErrTimeout, call.Method(), timeout)
				}
			}
			return err
		}
	}
}
