package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mini-jsonrpc/protocol"
)

// StreamConn is a Conn over a byte stream such as TCP.
type StreamConn struct {
	id     string
	conn   net.Conn
	framer protocol.Framer
	attrs  Attrs
	log    *zap.Logger

	sending   sync.Mutex // whole frames only, or documents from different writers interleave
	pingReset chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewStreamConn wraps conn and starts its keep-alive loop when the framing
// supports heartbeats.
func NewStreamConn(conn net.Conn, opts ...Option) *StreamConn {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	c := &StreamConn{
		id:        uuid.NewString(),
		conn:      conn,
		framer:    protocol.Ensure(conn, o.framing),
		pingReset: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	c.log = o.logger.With(zap.String("conn", c.id), zap.String("remote", c.RemoteAddr()))

	if hb, ok := c.framer.(protocol.Heartbeater); ok && o.pingInterval > 0 {
		go c.heartbeatLoop(hb, o.pingInterval)
	}
	return c
}

func (c *StreamConn) ID() string { return c.id }

func (c *StreamConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (c *StreamConn) Attrs() *Attrs { return &c.attrs }

func (c *StreamConn) Done() <-chan struct{} { return c.done }

// ReadMessage returns the next document. Reads on a closed connection
// return ErrClosed.
func (c *StreamConn) ReadMessage() ([]byte, error) {
	body, err := c.framer.ReadFrame()
	if err != nil {
		if c.isClosed() {
			return nil, ErrClosed
		}
		return nil, err
	}
	return body, nil
}

// WriteMessage writes one document. The context deadline, if any, bounds the write.
func (c *StreamConn) WriteMessage(ctx context.Context, data []byte) error {
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
	err := c.framer.WriteFrame(data)
	if err != nil {
		if c.isClosed() || errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}

	select {
	case c.pingReset <- struct{}{}:
	default:
	}
	return nil
}

func (c *StreamConn) Close() error {
	err := ErrClosed
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *StreamConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// heartbeatLoop sends a heartbeat frame after interval of write idleness.
// A connection whose heartbeat cannot be written is closed.
func (c *StreamConn) heartbeatLoop(hb protocol.Heartbeater, interval time.Duration) {
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
			c.sending.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(pingWriteTimeout))
			err := hb.WriteHeartbeat()
			c.sending.Unlock()
			if err != nil {
				c.log.Debug("heartbeat failed, closing connection", zap.Error(err))
				c.Close()
				return
			}
			timer.Reset(interval)
		}
	}
}
