package transport

import "sync"

// Group is a set of live connections. Closed connections leave the group
// on their own.
type Group struct {
	mu    sync.RWMutex
	conns []Conn
}

func NewGroup() *Group {
	return &Group{}
}

// Add puts c in the group. Adding a connection twice is a no-op.
func (g *Group) Add(c Conn) {
	g.mu.Lock()
	for _, existing := range g.conns {
		if existing.ID() == c.ID() {
			g.mu.Unlock()
			return
		}
	}
	g.conns = append(g.conns, c)
	g.mu.Unlock()

	go func() {
		<-c.Done()
		g.Remove(c)
	}()
}

func (g *Group) Remove(c Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, existing := range g.conns {
		if existing.ID() == c.ID() {
			g.conns = append(g.conns[:i], g.conns[i+1:]...)
			return
		}
	}
}

// Conns returns a snapshot in insertion order.
func (g *Group) Conns() []Conn {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Conn, len(g.conns))
	copy(out, g.conns)
	return out
}

func (g *Group) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Close closes every connection in the group.
func (g *Group) Close() {
	for _, c := range g.Conns() {
		c.Close()
	}
}
