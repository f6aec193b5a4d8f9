package middleware

import (
	"context"

	"golang.org/x/time/rate"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

// RateLimitMiddleware rejects requests beyond a token bucket of r per second
// with the given burst. Rejected notifications are dropped.
func RateLimitMiddleware(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			if !limiter.Allow() {
				return reply(req, message.NewError(req.ID, rpcerror.New(rpcerror.CodeRateLimited, "rate limit exceeded")))
			}
			return next(ctx, req)
		}
	}
}
