package transport

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"mini-jsonrpc/protocol"
)

// WebsocketConn is a Conn carrying one JSON document per text frame.
type WebsocketConn struct {
	id    string
	conn  *websocket.Conn
	attrs Attrs
	log   *zap.Logger

	sending      sync.Mutex
	pingReset    chan struct{}
	pongReceived chan struct{}
	closeOnce    sync.Once
	done         chan struct{}
}

// NewWebsocketConn wraps an established WebSocket and starts its ping loop.
func NewWebsocketConn(conn *websocket.Conn, opts ...Option) *WebsocketConn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &WebsocketConn{
		id:           uuid.NewString(),
		conn:         conn,
		pingReset:    make(chan struct{}, 1),
		pongReceived: make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	c.log = o.logger.With(zap.String("conn", c.id), zap.String("remote", c.RemoteAddr()))

	conn.SetReadLimit(o.readLimit)
	conn.SetPongHandler(func(string) error {
		select {
		case c.pongReceived <- struct{}{}:
		default:
		}
		return nil
	})
	if o.pingInterval > 0 {
		go c.pingLoop(o.pingInterval)
	}
	return c
}

func (c *WebsocketConn) ID() string { return c.id }

func (c *WebsocketConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *WebsocketConn) Attrs() *Attrs { return &c.attrs }

func (c *WebsocketConn) Done() <-chan struct{} { return c.done }

// ReadMessage returns the payload of the next text frame. A binary frame is
// a framing violation. An orderly close by the remote end reads as io.EOF.
func (c *WebsocketConn) ReadMessage() ([]byte, error) {
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.isClosed() {
			return nil, ErrClosed
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	if typ != websocket.TextMessage {
		return nil, fmt.Errorf("%w: unexpected websocket message type %d", protocol.ErrBadFrame, typ)
	}
	c.resetPing()
	return data, nil
}

func (c *WebsocketConn) WriteMessage(ctx context.Context, data []byte) error {
	if c.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.sending.Lock()
	defer c.sending.Unlock()

	deadline, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		if c.isClosed() {
			return ErrClosed
		}
		return err
	}

	c.resetPing()
	return nil
}

// resetPing delays the next idle ping. Traffic in either direction counts.
func (c *WebsocketConn) resetPing() {
	select {
	case c.pingReset <- struct{}{}:
	default:
	}
}

// Close sends a close frame on a best-effort basis and closes the socket.
func (c *WebsocketConn) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		close(c.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(pingWriteTimeout))
		err = c.conn.Close()
	})
	return err
}

func (c *WebsocketConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// pingLoop sends a ping frame when no message has been read or written for
// interval and expects a pong within pongTimeout. A ping that cannot be
// flushed closes the connection.
func (c *WebsocketConn) pingLoop(interval time.Duration) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		select {
		case <-c.done:
			return

		case <-c.pingReset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)

		case <-timer.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(pingWriteTimeout))
			if err != nil {
				c.log.Debug("ping failed, closing connection", zap.Error(err))
				c.Close()
				return
			}
			c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
			timer.Reset(interval)

		case <-c.pongReceived:
			c.conn.SetReadDeadline(time.Time{})
		}
	}
}
