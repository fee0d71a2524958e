package middleware

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware logs every dispatched call with its duration.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			start := time.Now()
			err := next(ctx, call)

			fields := []zap.Field{
				zap.String("method", call.Method()),
				zap.Int32("transaction", call.Transaction),
				zap.Int("depth", call.Depth),
				zap.Int("size", call.Size),
				zap.Duration("duration", time.Since(start)),
			}
			if err != nil {
				logger.Warn("call failed", append(fields, zap.Error(err))...)
			} else {
				logger.Debug("call served", fields...)
			}
			return err
		}
	}
}

// RecoverMiddleware turns a handler panic into ErrPanic so the Host can still reply.
func RecoverMiddleware(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panic",
						zap.String("method", call.Method()),
						zap.Any("panic", r),
						zap.Stack("stack"),
					)
					err = ErrPanic
				}
			}()
			return next(ctx, call)
		}
	}
}
