// Package client issues JSON-RPC calls and notifications over connections
// and correlates their replies.
//
// Every active connection owns a tracker: an id counter and a table of
// pending calls. Replies and timeouts race to remove a call from that table;
// whoever removes it completes the call's Future, the loser does nothing.
//
//	Invoke(add, 2, 3) ──register(id=1)──→ write ──→ peer
//	                                                 │
//	Resolve(id=1) ←── reply ─────────────────────────┘
//	    └─ LoadAndDelete(1) ──→ Future{5}
//	timeout(id=1) ── LoadAndDelete(1) finds nothing ──→ no-op
package client

import (
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/loadbalance"
	"mini-jsonrpc/scheduler"
)

// DefaultTimeout is the correlation timeout applied when a call sets none.
const DefaultTimeout = 60 * time.Second

type Client struct {
	sched    scheduler.Scheduler
	ownSched bool
	timeout  time.Duration
	wire     *codec.Wire
	balancer loadbalance.Balancer
	log      *zap.Logger
}

type Option func(*Client)

// WithScheduler shares sched for timeouts. Without it the client builds its
// own and stops it in Close.
func WithScheduler(sched scheduler.Scheduler) Option {
	return func(c *Client) { c.sched = sched }
}

// WithTimeout sets the default correlation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithCodec sets the codec used to encode params and decode results.
func WithCodec(cdc codec.Codec) Option {
	return func(c *Client) { c.wire = codec.NewWire(cdc) }
}

// WithBalancer sets how InvokeGroup picks a connection.
func WithBalancer(b loadbalance.Balancer) Option {
	return func(c *Client) { c.balancer = b }
}

func New(opts ...Option) *Client {
	c := &Client{
		timeout:  DefaultTimeout,
		wire:     codec.NewWire(nil),
		balancer: &loadbalance.RoundRobinBalancer{},
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sched == nil {
		c.sched = scheduler.New()
		c.ownSched = true
	}
	return c
}

// Wire returns the codec layer the client encodes with.
func (c *Client) Wire() *codec.Wire { return c.wire }

// Close stops the client's own scheduler. A shared scheduler is left alone.
func (c *Client) Close() {
	if c.ownSched {
		c.sched.Stop()
	}
}
