package middleware

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrTransient marks a handler error worth retrying. Wrap it: fmt.Errorf("%w: ...", ErrTransient).
var ErrTransient = errors.New("transient failure")

// RetryMiddleware re-runs a handler that failed with ErrTransient, backing off
// exponentially from baseDelay. Waiting stops early when ctx ends.
func RetryMiddleware(maxRetries int, baseDelay time.Duration, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			err := next(ctx, call)
			for i := 0; i < maxRetries; i++ {
				if err == nil || !errors.Is(err, ErrTransient) {
					return err
				}
				logger.Debug("retrying call",
					zap.String("method", call.Method()),
					zap.Int("attempt", i+1),
					zap.Error(err),
				)

				t := time.NewTimer(baseDelay * time.Duration(1<<i))
				select {
				case <-ctx.Done():
					t.Stop()
					return err
				case <-t.C:
				}
				err = next(ctx, call)
			}
			return err
		}
	}
}
