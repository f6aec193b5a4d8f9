package loadbalance

import (
	"context"
	"fmt"
	"hash/crc32"
	"sort"
	"strings"
	"sync"

	"mini-jsonrpc/transport"
)

// ConsistentHashBalancer maps routing keys to connections using a hash ring.
// The same key keeps landing on the same connection while the group is
// unchanged, and only a fraction of keys move when a connection leaves.
//
// Each connection is placed on the ring as replicas virtual nodes so a small
// group still spreads evenly. Calls without a key fall back to round robin.
type ConsistentHashBalancer struct {
	replicas int
	fallback RoundRobinBalancer

	mu    sync.Mutex
	sig   string                    // connection ids the ring was built from
	ring  []uint32                  // sorted hash values
	nodes map[uint32]transport.Conn // hash value → connection
}

// NewConsistentHashBalancer creates a ring with 100 virtual nodes per connection.
func NewConsistentHashBalancer() *ConsistentHashBalancer {
	return &ConsistentHashBalancer{replicas: 100}
}

func (b *ConsistentHashBalancer) Pick(ctx context.Context, conns []transport.Conn) (transport.Conn, error) {
	if len(conns) == 0 {
		return nil, ErrNoConns
	}
	key, ok := KeyFromContext(ctx)
	if !ok {
		return b.fallback.Pick(ctx, conns)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.rebuild(conns)

	hash := crc32.ChecksumIEEE([]byte(key))
	idx := sort.Search(len(b.ring), func(i int) bool {
		return b.ring[i] >= hash
	})
	// past the last node: wrap around to the first
	if idx == len(b.ring) {
		idx = 0
	}
	return b.nodes[b.ring[idx]], nil
}

// rebuild refreshes the ring when the set of connections changed.
func (b *ConsistentHashBalancer) rebuild(conns []transport.Conn) {
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.ID()
	}
	sort.Strings(ids)
	sig := strings.Join(ids, ",")
	if sig == b.sig {
		return
	}

	b.sig = sig
	b.ring = b.ring[:0]
	b.nodes = make(map[uint32]transport.Conn, len(conns)*b.replicas)
	for _, c := range conns {
		for i := 0; i < b.replicas; i++ {
			hash := crc32.ChecksumIEEE([]byte(fmt.Sprintf("%s#%d", c.ID(), i)))
			b.ring = append(b.ring, hash)
			b.nodes[hash] = c
		}
	}
	sort.Slice(b.ring, func(i, j int) bool {
		return b.ring[i] < b.ring[j]
	})
}

func (b *ConsistentHashBalancer) Name() string {
	return "ConsistentHash"
}
