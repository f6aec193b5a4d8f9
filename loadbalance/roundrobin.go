package loadbalance

import (
	"context"
	"sync/atomic"

	"mini-jsonrpc/transport"
)

// RoundRobinBalancer hands out connections in order.
// Uses an atomic counter for lock-free, goroutine-safe operation.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

func (b *RoundRobinBalancer) Pick(_ context.Context, conns []transport.Conn) (transport.Conn, error) {
	if len(conns) == 0 {
		return nil, ErrNoConns
	}
	index := (b.counter.Add(1) - 1) % uint64(len(conns))
	return conns[index], nil
}

func (b *RoundRobinBalancer) Name() string {
	return "RoundRobin"
}
