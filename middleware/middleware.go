// Package middleware decorates request dispatch.
//
// A HandlerFunc turns a request into its response. For a notification the
// response is nil and middlewares must keep it that way: whatever they
// decide, a notification is never answered.
package middleware

import (
	"context"

	"mini-jsonrpc/message"
)

type HandlerFunc func(ctx context.Context, req *message.Request) *message.Response

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. The first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// reply answers req with resp unless req is a notification.
func reply(req *message.Request, resp *message.Response) *message.Response {
	if req.IsNotification() {
		return nil
	}
	return resp
}
