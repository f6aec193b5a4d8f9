package client

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/message"
	"mini-jsonrpc/transport"
)

type trackerKey struct{}

// tracker is the per-connection correlation state.
type tracker struct {
	seq     atomic.Int64
	pending sync.Map // map[int64]*pendingCall
}

type pendingCall struct {
	future *Future
	typ    reflect.Type // nil delivers the raw result
}

// Activate creates the connection's tracker. Activating twice keeps the
// existing one.
func (c *Client) Activate(conn transport.Conn) {
	conn.Attrs().SetIfAbsent(trackerKey{}, &tracker{})
}

// Deactivate drops the connection's tracker and fails every call still
// pending on it with ErrConnClosed.
func (c *Client) Deactivate(conn transport.Conn, cause error) {
	v, ok := conn.Attrs().LoadAndDelete(trackerKey{})
	if !ok {
		return
	}
	err := ErrConnClosed
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrConnClosed, cause)
	}

	failed := 0
	t := v.(*tracker)
	t.pending.Range(func(key, _ any) bool {
		if call, ok := t.pending.LoadAndDelete(key); ok {
			call.(*pendingCall).future.complete(nil, err)
			failed++
		}
		return true
	})
	if failed > 0 {
		c.log.Debug("failed pending calls on deactivation",
			zap.String("conn", conn.ID()), zap.Int("count", failed))
	}
}

func (c *Client) tracker(conn transport.Conn) (*tracker, error) {
	v, ok := conn.Attrs().Load(trackerKey{})
	if !ok {
		return nil, ErrConnNotFound
	}
	return v.(*tracker), nil
}

// AllocateID returns the next call id of the connection, starting at 1.
func (c *Client) AllocateID(conn transport.Conn) (int64, error) {
	t, err := c.tracker(conn)
	if err != nil {
		return 0, err
	}
	return t.seq.Add(1), nil
}

// Register records a pending call and schedules its timeout. The timeout is
// not canceled when the reply arrives first; it then finds nothing to remove.
func (c *Client) Register(conn transport.Conn, id int64, typ reflect.Type, timeout time.Duration) (*Future, error) {
	t, err := c.tracker(conn)
	if err != nil {
		return nil, err
	}
	return c.register(conn, t, id, typ, timeout)
}

func (c *Client) register(conn transport.Conn, t *tracker, id int64, typ reflect.Type, timeout time.Duration) (*Future, error) {
	f := newFuture()
	if _, loaded := t.pending.LoadOrStore(id, &pendingCall{future: f, typ: typ}); loaded {
		return nil, fmt.Errorf("client: id %d already pending", id)
	}

	// Deactivate may have swept t between the lookup and the store.
	if cur, ok := conn.Attrs().Load(trackerKey{}); !ok || cur.(*tracker) != t {
		if _, ok := t.pending.LoadAndDelete(id); ok {
			return nil, ErrConnClosed
		}
		return f, nil // failed by the sweep
	}

	tm := c.sched.AfterFunc(timeout, func() {
		if call, ok := t.pending.LoadAndDelete(id); ok {
			call.(*pendingCall).future.complete(nil, ErrTimeout)
		}
	})
	if tm == nil {
		if _, ok := t.pending.LoadAndDelete(id); ok {
			return nil, ErrClosed
		}
		// resolved or failed in the meantime
	}
	return f, nil
}

// unregister forgets a call whose request never left.
func (c *Client) unregister(conn transport.Conn, id int64) {
	if t, err := c.tracker(conn); err == nil {
		t.pending.Delete(id)
	}
}

// Pending returns the number of calls awaiting a reply on conn.
func (c *Client) Pending(conn transport.Conn) int {
	t, err := c.tracker(conn)
	if err != nil {
		return 0
	}
	n := 0
	t.pending.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Resolve completes the call a response belongs to. It reports whether a
// pending call was found. Replies for unknown or expired ids are dropped.
// An error response without an id cannot be attributed to any call and
// closes the connection.
func (c *Client) Resolve(conn transport.Conn, resp *message.Response) bool {
	log := c.log.With(zap.String("conn", conn.ID()), zap.String("remote", conn.RemoteAddr()))

	if message.IsNullID(resp.ID) {
		if resp.Error != nil {
			log.Warn("error response without id, closing connection", zap.String("error", resp.Error.Describe()))
			conn.Close()
			return false
		}
		log.Warn("dropping response without id")
		return false
	}

	id, ok := message.ParseIntID(resp.ID)
	if !ok {
		log.Warn("dropping uncorrelatable response", zap.ByteString("id", resp.ID))
		return false
	}
	t, err := c.tracker(conn)
	if err != nil {
		log.Debug("dropping response on inactive connection", zap.Int64("id", id))
		return false
	}
	v, ok := t.pending.LoadAndDelete(id)
	if !ok {
		log.Debug("dropping response for unknown or expired call", zap.Int64("id", id))
		return false
	}

	call := v.(*pendingCall)
	if resp.Error != nil {
		call.future.complete(nil, resp.Error)
		return true
	}
	if call.typ == nil {
		call.future.complete(resp.Result, nil)
		return true
	}
	val, err := codec.DecodeValue(c.wire.Codec(), resp.Result, call.typ)
	if err != nil {
		call.future.complete(nil, fmt.Errorf("client: decode result of call %d: %w", id, err))
		return true
	}
	call.future.complete(val.Interface(), nil)
	return true
}
