package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware rejects calls beyond r per second with a token bucket of size burst.
// Rejected calls never reach the handler and are answered as failed.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) error {
			if !limiter.Allow() {
				return fmt.Errorf("%w: %s", ErrRateLimited, call.Method())
			}
			return next(ctx, call)
		}
	}
}
