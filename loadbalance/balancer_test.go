package loadbalance

import (
	"context"
	"fmt"
	"testing"

	"mini-jsonrpc/transport"
)

// fakeConn is a transport.Conn that only has an identity.
type fakeConn struct {
	id    string
	attrs transport.Attrs
}

func (c *fakeConn) ID() string                                 { return c.id }
func (c *fakeConn) RemoteAddr() string                         { return c.id }
func (c *fakeConn) ReadMessage() ([]byte, error)               { return nil, transport.ErrClosed }
func (c *fakeConn) WriteMessage(context.Context, []byte) error { return nil }
func (c *fakeConn) Close() error                               { return nil }
func (c *fakeConn) Done() <-chan struct{}                      { return nil }
func (c *fakeConn) Attrs() *transport.Attrs                    { return &c.attrs }

var testConns = []transport.Conn{
	&fakeConn{id: "conn-1"},
	&fakeConn{id: "conn-2"},
	&fakeConn{id: "conn-3"},
}

func TestRoundRobin(t *testing.T) {
	b := &RoundRobinBalancer{}
	ctx := context.Background()

	// Pick 3 times, should cycle through all connections
	results := make([]string, 3)
	for i := 0; i < 3; i++ {
		c, err := b.Pick(ctx, testConns)
		if err != nil {
			t.Fatal(err)
		}
		results[i] = c.ID()
	}
	if results[0] != "conn-1" || results[1] != "conn-2" || results[2] != "conn-3" {
		t.Fatalf("unexpected order %v", results)
	}

	// Pick again, should wrap around to first
	c, _ := b.Pick(ctx, testConns)
	if c.ID() != results[0] {
		t.Fatalf("expect wrap around to %s, got %s", results[0], c.ID())
	}
}

func TestRoundRobinEmpty(t *testing.T) {
	b := &RoundRobinBalancer{}
	if _, err := b.Pick(context.Background(), nil); err != ErrNoConns {
		t.Fatalf("expect ErrNoConns, got %v", err)
	}
}

func TestConsistentHash(t *testing.T) {
	b := NewConsistentHashBalancer()

	// Same key should always map to the same connection
	ctx := WithKey(context.Background(), "user-123")
	c1, _ := b.Pick(ctx, testConns)
	c2, _ := b.Pick(ctx, testConns)
	if c1.ID() != c2.ID() {
		t.Fatalf("same key mapped to different connections: %s vs %s", c1.ID(), c2.ID())
	}

	// Different keys should (likely) map to different connections
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		c, _ := b.Pick(WithKey(context.Background(), fmt.Sprintf("key-%d", i)), testConns)
		seen[c.ID()] = true
	}
	if len(seen) < 2 {
		t.Fatalf("expect at least 2 different connections, got %d", len(seen))
	}
}

func TestConsistentHashSurvivesRemoval(t *testing.T) {
	b := NewConsistentHashBalancer()
	ctx := WithKey(context.Background(), "session-42")

	owner, _ := b.Pick(ctx, testConns)
	var rest []transport.Conn
	for _, c := range testConns {
		if c.ID() != owner.ID() {
			rest = append(rest, c)
		}
	}
	// removing some other connection keeps the key where it was
	other := []transport.Conn{owner, rest[0]}
	again, _ := b.Pick(ctx, other)
	if again.ID() != owner.ID() {
		t.Fatalf("key moved from %s to %s", owner.ID(), again.ID())
	}

	moved, _ := b.Pick(ctx, rest)
	if moved.ID() == owner.ID() {
		t.Fatal("picked a connection that left the group")
	}
}

func TestConsistentHashWithoutKey(t *testing.T) {
	b := NewConsistentHashBalancer()
	c, err := b.Pick(context.Background(), testConns)
	if err != nil || c == nil {
		t.Fatalf("expect fallback pick, got %v, %v", c, err)
	}
}

func TestNewByStrategy(t *testing.T) {
	for strategy, want := range map[string]string{
		"":                     "RoundRobin",
		StrategyRoundRobin:     "RoundRobin",
		StrategyConsistentHash: "ConsistentHash",
	} {
		b, err := New(strategy)
		if err != nil {
			t.Fatalf("New(%q): %v", strategy, err)
		}
		if b.Name() != want {
			t.Fatalf("New(%q): expect %s, got %s", strategy, want, b.Name())
		}
	}
	if _, err := New("random"); err == nil {
		t.Fatal("expect error for unknown strategy")
	}
}
