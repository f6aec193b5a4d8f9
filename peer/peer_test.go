package peer

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mini-jsonrpc/client"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
	"mini-jsonrpc/server"
	"mini-jsonrpc/transport"
)

func newTestServer(t *testing.T, logged chan<- string) *server.Server {
	t.Helper()
	srv := server.NewServer()
	require.NoError(t, srv.Register("add", func(a, b int) int { return a + b }))
	require.NoError(t, srv.Register("ping", func() string { return "pong" }))
	require.NoError(t, srv.Register("log", func(msg string) error {
		if logged != nil {
			logged <- msg
		}
		return errors.New("disk full")
	}))
	return srv
}

// pipe starts a peer on one end of an in-memory connection and returns the
// raw other end.
func pipe(t *testing.T, opts ...Option) (*transport.StreamConn, *Peer) {
	t.Helper()
	a, b := net.Pipe()
	raw := transport.NewStreamConn(a, transport.WithPingInterval(0))
	p := New(transport.NewStreamConn(b, transport.WithPingInterval(0)), opts...)
	p.Start(context.Background())
	t.Cleanup(func() {
		raw.Close()
		p.Close()
	})
	return raw, p
}

// write returns once the peer has read doc.
func write(t *testing.T, raw transport.Conn, doc string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, raw.WriteMessage(ctx, []byte(doc)))
}

// readAsync reads the next document in the background, so the peer can
// write it while the test goroutine is busy.
func readAsync(raw transport.Conn) <-chan []byte {
	got := make(chan []byte, 1)
	go func() {
		data, err := raw.ReadMessage()
		if err != nil {
			data = nil
		}
		got <- data
	}()
	return got
}

func await(t *testing.T, got <-chan []byte) string {
	t.Helper()
	select {
	case data := <-got:
		require.NotNil(t, data, "read failed")
		return string(data)
	case <-time.After(2 * time.Second):
		t.Fatal("no message within 2s")
		return ""
	}
}

func read(t *testing.T, raw transport.Conn) string {
	t.Helper()
	return await(t, readAsync(raw))
}

func waitDone(t *testing.T, p *Peer) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("peer still serving")
	}
}

func TestRequestIsAnswered(t *testing.T) {
	raw, _ := pipe(t, WithServer(newTestServer(t, nil)))

	write(t, raw, `{"jsonrpc":"2.0","id":1,"method":"add","params":[2,3]}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":5}`, read(t, raw))

	write(t, raw, `{"jsonrpc":"2.0","id":"x","method":"foo"}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"x","error":{"code":-32601,"message":"Method not found"}}`, read(t, raw))
}

func TestFailingNotificationSendsNothing(t *testing.T) {
	logged := make(chan string, 1)
	raw, _ := pipe(t, WithServer(newTestServer(t, logged)))

	write(t, raw, `{"jsonrpc":"2.0","method":"log","params":["hi"]}`)
	select {
	case msg := <-logged:
		assert.Equal(t, "hi", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("notification not dispatched")
	}

	write(t, raw, `{"jsonrpc":"2.0","id":2,"method":"ping"}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":2,"result":"pong"}`, read(t, raw))
}

func TestUnreadableFrameClosesConnection(t *testing.T) {
	raw, p := pipe(t, WithServer(newTestServer(t, nil)))

	write(t, raw, `{"jsonrpc" 1}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, read(t, raw))
	waitDone(t, p)
	assert.Error(t, p.Err())
}

func TestInvalidRequestWithIDKeepsConnection(t *testing.T) {
	raw, p := pipe(t, WithServer(newTestServer(t, nil)))

	write(t, raw, `{"jsonrpc":"1.0","id":9,"method":"ping"}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":9,"error":{"code":-32600,"message":"Invalid Request"}}`, read(t, raw))

	write(t, raw, `{"jsonrpc":"2.0","id":10,"method":"ping"}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":10,"result":"pong"}`, read(t, raw))
	select {
	case <-p.Done():
		t.Fatal("peer stopped")
	default:
	}
}

func TestBatchClosesConnection(t *testing.T) {
	raw, p := pipe(t, WithServer(newTestServer(t, nil)))

	write(t, raw, `[{"jsonrpc":"2.0","id":1,"method":"ping"}]`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32600,"message":"Invalid Request"}}`, read(t, raw))
	waitDone(t, p)
	assert.NoError(t, p.Err())
}

// resultlessCodec cannot encode successful responses.
type resultlessCodec struct{ codec.JSONCodec }

func (c *resultlessCodec) Encode(v any) ([]byte, error) {
	if resp, ok := v.(*message.Response); ok && resp.Error == nil {
		return nil, errors.New("result not encodable")
	}
	return c.JSONCodec.Encode(v)
}

func TestUnencodableResponseFallsBackToInternalError(t *testing.T) {
	c := client.New(client.WithCodec(&resultlessCodec{}))
	defer c.Close()
	raw, _ := pipe(t, WithClient(c), WithServer(newTestServer(t, nil)))

	write(t, raw, `{"jsonrpc":"2.0","id":7,"method":"add","params":[2,3]}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"error":{"code":-32603,"message":"Internal error"}}`, read(t, raw))
}

func TestPeerWithoutServer(t *testing.T) {
	c := client.New()
	defer c.Close()
	raw, _ := pipe(t, WithClient(c))

	write(t, raw, `{"jsonrpc":"2.0","id":4,"method":"ping"}`)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":4,"error":{"code":-32601,"message":"Method not found"}}`, read(t, raw))
}

func TestCallRoundTrip(t *testing.T) {
	a, b := net.Pipe()
	c := client.New()
	defer c.Close()

	caller := New(transport.NewStreamConn(a, transport.WithPingInterval(0)), WithClient(c))
	callee := New(transport.NewStreamConn(b, transport.WithPingInterval(0)), WithServer(newTestServer(t, nil)))
	caller.Start(context.Background())
	callee.Start(context.Background())
	defer caller.Close()
	defer callee.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sum, err := Call[int](ctx, caller, "add", []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 5, sum)

	_, err = Call[int](ctx, caller, "add", []string{"a", "b"})
	var rpcErr *rpcerror.Error
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, rpcerror.CodeInvalidParams, rpcErr.Code)

	assert.NoError(t, caller.Notify(ctx, "log", []string{"bye"}))
}

func TestMalformedResponseLeavesCallPending(t *testing.T) {
	c := client.New()
	defer c.Close()
	raw, p := pipe(t, WithClient(c))

	sent := readAsync(raw)
	f, err := p.Request(context.Background(), "add", []int{1, 2}, nil)
	require.NoError(t, err)
	var req struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(await(t, sent)), &req))
	assert.Equal(t, int64(1), req.ID)

	write(t, raw, `{"jsonrpc":"2.0","id":1,"result":99,"error":{"code":-32000,"message":"both"}}`)
	write(t, raw, `{"jsonrpc":"2.0","id":1,"error":{"message":"no code"}}`)
	write(t, raw, `{"jsonrpc":"2.0","id":1,"result":3}`)

	v, err := f.AwaitTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(v.(json.RawMessage)))
	assert.Equal(t, 0, c.Pending(p.Conn()))
}

func TestNullIDErrorClosesConnection(t *testing.T) {
	c := client.New()
	defer c.Close()
	raw, p := pipe(t, WithClient(c))

	sent := readAsync(raw)
	f, err := p.Request(context.Background(), "ping", nil, nil)
	require.NoError(t, err)
	await(t, sent)

	write(t, raw, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`)
	waitDone(t, p)

	_, err = f.AwaitTimeout(2 * time.Second)
	assert.ErrorIs(t, err, client.ErrConnClosed)
}

func TestServeEndsWithContext(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	p := New(transport.NewStreamConn(b, transport.WithPingInterval(0)))

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	cancel()
	waitDone(t, p)
	assert.NoError(t, p.Err())
}

func TestHelpersNeedClient(t *testing.T) {
	_, p := pipe(t, WithServer(newTestServer(t, nil)))

	_, err := p.Request(context.Background(), "ping", nil, nil)
	assert.ErrorIs(t, err, ErrNoClient)
	assert.ErrorIs(t, p.Notify(context.Background(), "ping", nil), ErrNoClient)
	_, err = Call[string](context.Background(), p, "ping", nil)
	assert.ErrorIs(t, err, ErrNoClient)
}
