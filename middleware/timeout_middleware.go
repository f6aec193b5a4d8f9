package middleware

import (
	"context"
	"time"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

// TimeOutMiddleware answers with CodeTimeout when next does not finish within
// timeout. The handler keeps running with a canceled context.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *message.Request) *message.Response {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan *message.Response, 1)
			go func() {
				done <- next(ctx, req)
			}()

			select {
			case resp := <-done:
				return resp
			case <-ctx.Done():
				return reply(req, message.NewError(req.ID, rpcerror.New(rpcerror.CodeTimeout, "request timed out")))
			}
		}
	}
}
