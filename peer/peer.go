// Package peer runs one JSON-RPC connection.
//
// A Peer reads documents in arrival order and routes them:
//
//	ReadMessage → Wire.Decode
//	  ├─ *message.Request  → go Server.Dispatch → EncodeResponse → WriteMessage
//	  ├─ *message.Response → Client.Resolve
//	  ├─ *codec.DecodeError → error reply, close when fatal
//	  └─ ErrMalformedResponse → dropped
//
// Either side of a connection may issue calls, so a Peer can carry a
// client, a server, or both.
package peer

import (
	"context"
	"errors"
	"io"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/client"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/message"
	"mini-jsonrpc/protocol"
	"mini-jsonrpc/rpcerror"
	"mini-jsonrpc/server"
	"mini-jsonrpc/transport"
)

// ErrNoClient is returned by the call helpers of a peer built without a client.
var ErrNoClient = errors.New("peer: no client configured")

// DefaultWriteTimeout bounds writing one response.
const DefaultWriteTimeout = 10 * time.Second

type Peer struct {
	conn         transport.Conn
	wire         *codec.Wire
	client       *client.Client
	server       *server.Server
	log          *zap.Logger
	writeTimeout time.Duration

	wg   sync.WaitGroup // in-flight dispatches
	done chan struct{}
	err  error
}

type Option func(*Peer)

// WithClient lets the peer issue calls and resolve their replies.
func WithClient(c *client.Client) Option {
	return func(p *Peer) { p.client = c }
}

// WithServer lets the peer answer calls.
func WithServer(s *server.Server) Option {
	return func(p *Peer) { p.server = s }
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Peer) {
		if l != nil {
			p.log = l
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(p *Peer) { p.writeTimeout = d }
}

// New binds conn to a client and/or a server. The client, if any, is
// activated on conn right away so calls can be issued before Serve runs.
func New(conn transport.Conn, opts ...Option) *Peer {
	p := &Peer{
		conn:         conn,
		log:          zap.NewNop(),
		writeTimeout: DefaultWriteTimeout,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client != nil {
		p.wire = p.client.Wire()
		p.client.Activate(conn)
	} else {
		p.wire = codec.NewWire(nil)
	}
	p.log = p.log.With(zap.String("conn", conn.ID()), zap.String("remote", conn.RemoteAddr()))
	return p
}

func (p *Peer) Conn() transport.Conn   { return p.conn }
func (p *Peer) Client() *client.Client { return p.client }

// Done is closed once Serve has returned.
func (p *Peer) Done() <-chan struct{} { return p.done }

// Err returns what Serve returned. It is only meaningful after Done.
func (p *Peer) Err() error { return p.err }

// Close closes the connection, which ends Serve.
func (p *Peer) Close() error { return p.conn.Close() }

// Start runs Serve in its own goroutine.
func (p *Peer) Start(ctx context.Context) {
	go func() {
		_ = p.Serve(ctx)
	}()
}

// Serve runs the read loop until the connection closes or ctx ends, and
// must be called at most once. It returns nil when the connection was
// closed in an orderly way. Before returning it fails the calls still
// pending on the connection and waits for in-flight dispatches.
func (p *Peer) Serve(ctx context.Context) (err error) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(ctx, func() { p.conn.Close() })
	defer func() {
		stop()
		cancel()
		if p.client != nil {
			p.client.Deactivate(p.conn, err)
		}
		p.wg.Wait()
		p.conn.Close()
		p.err = err
		close(p.done)
	}()

	for {
		data, err := p.conn.ReadMessage()
		if err != nil {
			return p.readError(ctx, err)
		}
		if !p.handle(ctx, data) {
			return nil
		}
	}
}

func (p *Peer) readError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, protocol.ErrBadFrame):
		p.log.Warn("unreadable frame, closing connection", zap.Error(err))
		p.send(ctx, message.NewError(nil, rpcerror.Standard(rpcerror.ParseError)))
		return err
	case errors.Is(err, transport.ErrClosed), errors.Is(err, io.EOF):
		return nil
	}
	p.log.Debug("read failed", zap.Error(err))
	return err
}

// handle processes one inbound document. It returns false when the
// connection must be closed.
func (p *Peer) handle(ctx context.Context, data []byte) bool {
	msg, err := p.wire.Decode(data)
	if err != nil {
		var decErr *codec.DecodeError
		if errors.As(err, &decErr) {
			p.log.Debug("rejecting message", zap.Error(err))
			p.send(ctx, decErr.Response())
			if decErr.Fatal {
				p.log.Warn("closing connection after unanswerable message", zap.Error(err))
				return false
			}
			return true
		}
		// ErrMalformedResponse: the call it may belong to stays pending
		p.log.Warn("dropping malformed response", zap.Error(err))
		return true
	}

	switch m := msg.(type) {
	case *message.Request:
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.dispatch(ctx, m)
		}()
	case *message.Response:
		p.resolve(m)
	}
	return true
}

func (p *Peer) dispatch(ctx context.Context, req *message.Request) {
	var resp *message.Response
	switch {
	case p.server != nil:
		resp = p.server.Dispatch(ctx, p.conn, req)
	case !req.IsNotification():
		resp = message.NewError(req.ID, rpcerror.Standard(rpcerror.MethodNotFound))
	}
	if resp != nil {
		p.send(ctx, resp)
	}
}

func (p *Peer) resolve(resp *message.Response) {
	if p.client != nil {
		p.client.Resolve(p.conn, resp)
		return
	}
	if message.IsNullID(resp.ID) && resp.Error != nil {
		p.log.Warn("error response without id, closing connection", zap.String("error", resp.Error.Describe()))
		p.conn.Close()
		return
	}
	p.log.Debug("dropping response on a peer that issues no calls", zap.ByteString("id", resp.ID))
}

// send writes a response, or the INTERNAL_ERROR reply the wire falls back
// to when resp cannot be encoded. Responses still go out while Serve is
// winding down, so the write is not tied to ctx cancellation.
func (p *Peer) send(ctx context.Context, resp *message.Response) {
	data, err := p.wire.EncodeResponse(resp)
	if err != nil {
		// data, if any, is the INTERNAL_ERROR reply standing in for resp
		p.log.Error("cannot encode response", zap.ByteString("id", resp.ID), zap.Error(err))
		if len(data) == 0 {
			return
		}
	}

	wctx := context.WithoutCancel(ctx)
	if p.writeTimeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(wctx, p.writeTimeout)
		defer cancel()
	}
	if err := p.conn.WriteMessage(wctx, data); err != nil {
		p.log.Debug("cannot write response", zap.ByteString("id", resp.ID), zap.Error(err))
	}
}

// Invoke calls m on the peer's connection.
func (p *Peer) Invoke(ctx context.Context, m client.Method, args ...any) (*client.Future, error) {
	if p.client == nil {
		return nil, ErrNoClient
	}
	return p.client.Invoke(ctx, p.conn, m, args...)
}

// Request sends a call. A nil typ delivers the result as json.RawMessage.
func (p *Peer) Request(ctx context.Context, method string, params any, typ reflect.Type) (*client.Future, error) {
	if p.client == nil {
		return nil, ErrNoClient
	}
	return p.client.Request(ctx, p.conn, method, params, typ)
}

// Notify sends a notification.
func (p *Peer) Notify(ctx context.Context, method string, params any) error {
	if p.client == nil {
		return ErrNoClient
	}
	return p.client.Notify(ctx, p.conn, method, params)
}

// Call sends a request on p and waits for its result, decoded as T.
func Call[T any](ctx context.Context, p *Peer, method string, params any) (T, error) {
	if p.client == nil {
		var zero T
		return zero, ErrNoClient
	}
	return client.Call[T](ctx, p.client, p.conn, method, params)
}
