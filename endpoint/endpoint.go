// Package endpoint accepts and dials JSON-RPC connections and runs a
// peer.Peer on each of them.
//
//	ServeTCP / Serve(listener) ─┐
//	WebsocketHandler ───────────┼─→ transport.Conn → peer.Peer.Serve
//	DialTCP / DialWebsocket ────┘
//
// Every connection shares the endpoint's server and client, and joins its
// Group so calls and notifications can be fanned out to all of them.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-jsonrpc/client"
	"mini-jsonrpc/peer"
	"mini-jsonrpc/protocol"
	"mini-jsonrpc/server"
	"mini-jsonrpc/transport"
)

type Endpoint struct {
	server       *server.Server // nil: incoming calls are answered with METHOD_NOT_FOUND
	client       *client.Client // nil: peers cannot issue calls
	log          *zap.Logger
	framing      protocol.Framing
	pingInterval time.Duration
	readLimit    int64
	writeTimeout time.Duration
	group        *transport.Group

	ctx    context.Context // canceled on Shutdown, ends every peer
	cancel context.CancelFunc

	mu          sync.Mutex
	shutdown    bool
	listeners   []net.Listener
	httpServers []*http.Server
	peers       sync.WaitGroup
}

type Option func(*Endpoint)

func WithServer(s *server.Server) Option {
	return func(e *Endpoint) { e.server = s }
}

func WithClient(c *client.Client) Option {
	return func(e *Endpoint) { e.client = c }
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Endpoint) {
		if l != nil {
			e.log = l
		}
	}
}

// WithFraming selects the framing of stream connections.
func WithFraming(f protocol.Framing) Option {
	return func(e *Endpoint) { e.framing = f }
}

// WithPingInterval sets the keep-alive interval of every connection. Zero
// disables keep-alives.
func WithPingInterval(d time.Duration) Option {
	return func(e *Endpoint) { e.pingInterval = d }
}

func WithReadLimit(n int64) Option {
	return func(e *Endpoint) { e.readLimit = n }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(e *Endpoint) { e.writeTimeout = d }
}

// WithGroup collects the endpoint's connections into g.
func WithGroup(g *transport.Group) Option {
	return func(e *Endpoint) { e.group = g }
}

func New(opts ...Option) *Endpoint {
	e := &Endpoint{
		log:          zap.NewNop(),
		framing:      protocol.FramingJSON,
		pingInterval: transport.DefaultPingInterval,
		writeTimeout: peer.DefaultWriteTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.group == nil {
		e.group = transport.NewGroup()
	}
	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Group holds every live connection of the endpoint.
func (e *Endpoint) Group() *transport.Group { return e.group }

func (e *Endpoint) transportOptions() []transport.Option {
	opts := []transport.Option{
		transport.WithLogger(e.log),
		transport.WithFraming(e.framing),
		transport.WithPingInterval(e.pingInterval),
	}
	if e.readLimit > 0 {
		opts = append(opts, transport.WithReadLimit(e.readLimit))
	}
	return opts
}

// ServeTCP listens on addr and serves until Shutdown.
func (e *Endpoint) ServeTCP(network, addr string) error {
	l, err := e.Listen(network, addr)
	if err != nil {
		return err
	}
	return e.Serve(l)
}

func (e *Endpoint) Listen(network, addr string) (net.Listener, error) {
	l, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("endpoint: listen %s %s: %w", network, addr, err)
	}
	return l, nil
}

// Serve accepts stream connections on l until Shutdown closes it.
func (e *Endpoint) Serve(l net.Listener) error {
	e.mu.Lock()
	if e.shutdown {
		e.mu.Unlock()
		l.Close()
		return nil
	}
	e.listeners = append(e.listeners, l)
	e.mu.Unlock()

	e.log.Info("accepting connections", zap.String("addr", l.Addr().String()), zap.String("framing", string(e.framing)))
	for {
		conn, err := l.Accept()
		if err != nil {
			// Shutdown closes the listener, which makes Accept fail.
			e.mu.Lock()
			closing := e.shutdown
			e.mu.Unlock()
			if closing {
				return nil
			}
			return fmt.Errorf("endpoint: accept: %w", err)
		}
		p, ok := e.track(transport.NewStreamConn(conn, e.transportOptions()...))
		if ok {
			go e.run(p)
		}
	}
}

// track builds the peer of conn and counts it for Shutdown. It refuses
// connections arriving after Shutdown started.
func (e *Endpoint) track(conn transport.Conn) (*peer.Peer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutdown {
		conn.Close()
		return nil, false
	}
	e.peers.Add(1)

	opts := []peer.Option{peer.WithLogger(e.log), peer.WithWriteTimeout(e.writeTimeout)}
	if e.server != nil {
		opts = append(opts, peer.WithServer(e.server))
	}
	if e.client != nil {
		opts = append(opts, peer.WithClient(e.client))
	}
	e.group.Add(conn)
	return peer.New(conn, opts...), true
}

func (e *Endpoint) run(p *peer.Peer) {
	defer e.peers.Done()
	log := e.log.With(zap.String("conn", p.Conn().ID()), zap.String("remote", p.Conn().RemoteAddr()))
	log.Debug("connection opened")
	if err := p.Serve(e.ctx); err != nil {
		log.Info("connection failed", zap.Error(err))
		return
	}
	log.Debug("connection closed")
}

// DialTCP connects to addr and returns the running peer of the connection.
func (e *Endpoint) DialTCP(ctx context.Context, addr string) (*peer.Peer, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("endpoint: dial %s: %w", addr, err)
	}
	p, ok := e.track(transport.NewStreamConn(conn, e.transportOptions()...))
	if !ok {
		return nil, errors.New("endpoint: shut down")
	}
	go e.run(p)
	return p, nil
}

// Shutdown stops accepting connections, closes the open ones and waits for
// their in-flight dispatches, at most timeout.
func (e *Endpoint) Shutdown(timeout time.Duration) error {
	e.mu.Lock()
	e.shutdown = true
	listeners, servers := e.listeners, e.httpServers
	e.listeners, e.httpServers = nil, nil
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs error
	for _, l := range listeners {
		if err := l.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierr.Append(errs, fmt.Errorf("endpoint: close %s: %w", l.Addr(), err))
		}
	}
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("endpoint: shut down %s: %w", srv.Addr, err))
		}
	}

	e.cancel()
	done := make(chan struct{})
	go func() {
		e.peers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("endpoint: timeout waiting for %d connections to finish", e.group.Len()))
	}
	return errs
}
