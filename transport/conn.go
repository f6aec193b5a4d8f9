// Package transport provides the connections JSON-RPC peers talk over.
//
// A Conn carries whole JSON documents. Two implementations exist: a stream
// connection on top of a net.Conn with a protocol framer, and a WebSocket
// connection carrying one document per text frame. Both serialize writes
// with a per-connection mutex, so any goroutine may send at any time, and
// both keep idle links alive:
//
//	StreamConn     ── idle ──→ heartbeat frame (length framing only)
//	WebsocketConn  ── idle ──→ ping control frame, failure closes the conn
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by operations on a closed connection.
var ErrClosed = errors.New("transport: connection closed")

// Conn is a message-oriented, full-duplex connection.
//
// ReadMessage must only be called from one goroutine. WriteMessage is safe
// for concurrent use.
type Conn interface {
	ID() string
	RemoteAddr() string
	ReadMessage() ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	Close() error
	// Done is closed once the connection is closed.
	Done() <-chan struct{}
	Attrs() *Attrs
}

// Attrs is per-connection attribute storage, safe for concurrent use.
type Attrs struct {
	m sync.Map
}

// SetIfAbsent stores v under key unless a value is already present. It
// returns the stored value and whether it was already there.
func (a *Attrs) SetIfAbsent(key, v any) (actual any, loaded bool) {
	return a.m.LoadOrStore(key, v)
}

func (a *Attrs) Load(key any) (any, bool) {
	return a.m.Load(key)
}

// LoadAndDelete removes key and returns the value it held.
func (a *Attrs) LoadAndDelete(key any) (any, bool) {
	return a.m.LoadAndDelete(key)
}

func (a *Attrs) Delete(key any) {
	a.m.Delete(key)
}

type connKey struct{}

// WithConn returns a context carrying c.
func WithConn(ctx context.Context, c Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// ConnFromContext returns the connection stored by WithConn.
func ConnFromContext(ctx context.Context) (Conn, bool) {
	c, ok := ctx.Value(connKey{}).(Conn)
	return c, ok
}
