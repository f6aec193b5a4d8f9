// Package loadbalance picks one connection out of a group for a call.
//
// Two strategies are implemented:
//   - RoundRobin:      spread calls evenly over equivalent peers
//   - ConsistentHash:  keep calls carrying the same key on the same peer
package loadbalance

import (
	"context"
	"errors"
	"fmt"

	"mini-jsonrpc/transport"
)

// ErrNoConns is returned when there is nothing to pick from.
var ErrNoConns = errors.New("loadbalance: no connections available")

// Balancer is the interface for connection selection strategies.
type Balancer interface {
	// Pick selects one connection. Called on every grouped call, so it
	// must be goroutine-safe.
	Pick(ctx context.Context, conns []transport.Conn) (transport.Conn, error)

	// Name returns the strategy name (for logging/debugging).
	Name() string
}

// Strategy names accepted by New.
const (
	StrategyRoundRobin     = "round_robin"
	StrategyConsistentHash = "consistent_hash"
)

// New returns a balancer by strategy name. An empty name selects round robin.
func New(strategy string) (Balancer, error) {
	switch strategy {
	case "", StrategyRoundRobin:
		return &RoundRobinBalancer{}, nil
	case StrategyConsistentHash:
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", strategy)
}

type keyCtx struct{}

// WithKey attaches a routing key to ctx for key-aware balancers.
func WithKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, keyCtx{}, key)
}

// KeyFromContext returns the routing key set by WithKey.
func KeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(keyCtx{}).(string)
	return key, ok
}
