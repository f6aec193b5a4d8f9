package transport

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-jsonrpc/protocol"
)

func TestStreamConnJSONFraming(t *testing.T) {
	a, b := net.Pipe()
	client := NewStreamConn(a, WithPingInterval(0))
	server := NewStreamConn(b, WithPingInterval(0))
	defer client.Close()
	defer server.Close()

	assert.NotEqual(t, client.ID(), server.ID())
	assert.Equal(t, "pipe", client.RemoteAddr())

	go func() {
		client.WriteMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"a"}`))
		client.WriteMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"b"}`))
	}()

	first, err := server.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"a"}`, string(first))

	second, err := server.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"b"}`, string(second))
}

func TestStreamConnClose(t *testing.T) {
	a, b := net.Pipe()
	c := NewStreamConn(a, WithPingInterval(0))
	defer b.Close()

	readErr := make(chan error, 1)
	go func() {
		_, err := c.ReadMessage()
		readErr <- err
	}()

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrClosed)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed")
	}
	select {
	case err := <-readErr:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("read did not return after close")
	}
	assert.ErrorIs(t, c.WriteMessage(context.Background(), []byte(`{}`)), ErrClosed)
}

func TestStreamConnHeartbeat(t *testing.T) {
	a, b := net.Pipe()
	c := NewStreamConn(a, WithFraming(protocol.FramingLength), WithPingInterval(20*time.Millisecond))
	defer c.Close()
	defer b.Close()

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	h, body, err := protocol.Decode(b)
	require.NoError(t, err)
	assert.Equal(t, protocol.MsgTypeHeartbeat, h.MsgType)
	assert.Empty(t, body)
}

func TestStreamConnHeartbeatFailureCloses(t *testing.T) {
	a, b := net.Pipe()
	c := NewStreamConn(a, WithFraming(protocol.FramingLength), WithPingInterval(10*time.Millisecond))
	b.Close()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("connection not closed after heartbeat failure")
	}
}

func TestWriteMessageHonorsCanceledContext(t *testing.T) {
	a, b := net.Pipe()
	c := NewStreamConn(a, WithPingInterval(0))
	defer c.Close()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.WriteMessage(ctx, []byte(`{}`)), context.Canceled)
}

func newWebsocketPair(t *testing.T, opts ...Option) (client, server *WebsocketConn) {
	t.Helper()
	accepted := make(chan *WebsocketConn, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		accepted <- NewWebsocketConn(ws, opts...)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	client = NewWebsocketConn(ws, opts...)
	server = <-accepted
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestWebsocketConnTextFrames(t *testing.T) {
	client, server := newWebsocketPair(t, WithPingInterval(0))

	require.NoError(t, client.WriteMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"add","params":[2,3]}`)))
	got, err := server.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"add","params":[2,3]}`, string(got))
}

func TestWebsocketConnRejectsBinaryFrames(t *testing.T) {
	client, server := newWebsocketPair(t, WithPingInterval(0))

	require.NoError(t, client.conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	_, err := server.ReadMessage()
	assert.ErrorIs(t, err, protocol.ErrBadFrame)
}

func TestWebsocketConnPingsWhenIdle(t *testing.T) {
	client, _ := newWebsocketPair(t, WithPingInterval(20*time.Millisecond))

	pinged := make(chan struct{}, 1)
	client.conn.SetPingHandler(func(string) error {
		select {
		case pinged <- struct{}{}:
		default:
		}
		return nil
	})
	// control frames are only processed by a reader
	go client.ReadMessage()

	select {
	case <-pinged:
	case <-time.After(2 * time.Second):
		t.Fatal("no ping received")
	}
}

func TestWebsocketConnInboundTrafficDelaysPing(t *testing.T) {
	client, server := newWebsocketPair(t, WithPingInterval(60*time.Millisecond))

	var pings atomic.Int32
	client.conn.SetPingHandler(func(string) error {
		pings.Add(1)
		return nil
	})
	go client.ReadMessage()
	go func() {
		for {
			if _, err := server.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// the server only reads, the client keeps talking
	for i := 0; i < 30; i++ {
		require.NoError(t, client.WriteMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"tick"}`)))
		time.Sleep(10 * time.Millisecond)
	}
	assert.Zero(t, pings.Load(), "a connection receiving traffic is not idle")
}

func TestGroupRemovesClosedConns(t *testing.T) {
	g := NewGroup()
	a, b := net.Pipe()
	c1 := NewStreamConn(a, WithPingInterval(0))
	c2 := NewStreamConn(b, WithPingInterval(0))
	g.Add(c1)
	g.Add(c2)
	g.Add(c1)
	require.Equal(t, 2, g.Len())
	assert.Equal(t, []Conn{c1, c2}, g.Conns())

	c1.Close()
	assert.Eventually(t, func() bool { return g.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, c2.ID(), g.Conns()[0].ID())

	g.Close()
	assert.Eventually(t, func() bool { return g.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAttrs(t *testing.T) {
	var attrs Attrs
	v, loaded := attrs.SetIfAbsent("k", 1)
	assert.False(t, loaded)
	assert.Equal(t, 1, v)

	v, loaded = attrs.SetIfAbsent("k", 2)
	assert.True(t, loaded)
	assert.Equal(t, 1, v)

	v, ok := attrs.LoadAndDelete("k")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	_, ok = attrs.Load("k")
	assert.False(t, ok)
}

func TestConnFromContext(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewStreamConn(a, WithPingInterval(0))
	defer c.Close()

	_, ok := ConnFromContext(context.Background())
	assert.False(t, ok)

	got, ok := ConnFromContext(WithConn(context.Background(), c))
	require.True(t, ok)
	assert.Equal(t, c.ID(), got.ID())
}
