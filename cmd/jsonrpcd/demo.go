package main

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"mini-jsonrpc/client"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/server"
	"mini-jsonrpc/transport"
)

var errDivideByZero = errors.New("divide by zero")

// arith is registered method by method under its Go names.
type arith struct{}

func (arith) Sub(a, b int) int { return a - b }

func (arith) Div(a, b float64) (float64, error) {
	if b == 0 {
		return 0, errDivideByZero
	}
	return a / b, nil
}

func (arith) Concat(parts ...string) string { return strings.Join(parts, "") }

// registerDemo installs the demo methods. broadcast fans a notification out
// to every connection of group through hub. relay forwards a call to the
// connection the hub's balancer picks for key.
func registerDemo(srv *server.Server, hub *client.Client, group *transport.Group) error {
	log := zap.L().Named("demo")
	register := []struct {
		name string
		fn   any
	}{
		{"add", func(a, b int) int { return a + b }},
		{"add", func(xs ...float64) float64 {
			var sum float64
			for _, x := range xs {
				sum += x
			}
			return sum
		}},
		{"echo", func(v any) any { return v }},
		{"log", func(msg string) { log.Info("remote log", zap.String("msg", msg)) }},
		{"whoami", func(conn transport.Conn) string { return conn.ID() }},
		{"broadcast", func(ctx context.Context, conn transport.Conn, msg string) (int, error) {
			err := hub.NotifyGroup(ctx, group, "message", []string{conn.ID(), msg})
			return group.Len(), err
		}},
		{"relay", func(ctx context.Context, key, method string, args []any) (any, error) {
			m := client.Method{Name: method, Mode: client.ModeRequest, Variadic: true}
			f, err := hub.InvokeGroup(loadbalance.WithKey(ctx, key), group, m, args)
			if err != nil {
				return nil, err
			}
			return f.Await(ctx)
		}},
	}
	for _, r := range register {
		if err := srv.Register(r.name, r.fn); err != nil {
			return err
		}
	}
	return srv.RegisterReceiver(arith{}, map[string][]server.MethodOption{
		"Sub":    {server.Alias("arith.sub"), server.AliasOnly()},
		"Div":    {server.Alias("arith.div"), server.AliasOnly()},
		"Concat": {server.Alias("arith.concat"), server.AliasOnly()},
	})
}
