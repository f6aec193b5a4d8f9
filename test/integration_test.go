package test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"mini-jsonrpc/client"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/server"
	"mini-jsonrpc/transport"
)

// ---- services under test ----

type Point struct {
	X, Y int
}

func newArith(t testing.TB, logged chan<- string) *server.Server {
	srv := server.NewServer()
	srv.Use(middleware.LoggingMiddleware(zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))))
	register := func(name string, fn any) {
		if err := srv.Register(name, fn); err != nil {
			t.Fatal(err)
		}
	}
	// the variadic overload comes first so fixed arity has to win on merit
	register("add", func(xs ...int) string { return "variadic" })
	register("add", func(a, b int) int { return a + b })
	register("norm", func(p Point) int { return p.X*p.X + p.Y*p.Y })
	register("log", func(msg string) error {
		if logged != nil {
			logged <- msg
		}
		return errors.New("log sink unavailable")
	})
	register("ping", func() string { return "pong" })
	return srv
}

// ---- transports: every scenario runs over TCP and WebSocket ----

type dialFunc func(t *testing.T) transport.Conn

func startEndpoint(t *testing.T, e *endpoint.Endpoint) map[string]dialFunc {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go e.Serve(l)
	ts := httptest.NewServer(e.WebsocketHandler(nil))
	t.Cleanup(func() {
		ts.Close()
		assert.NoError(t, e.Shutdown(3*time.Second))
	})

	return map[string]dialFunc{
		"tcp": func(t *testing.T) transport.Conn {
			conn, err := net.Dial("tcp", l.Addr().String())
			require.NoError(t, err)
			c := transport.NewStreamConn(conn, transport.WithPingInterval(0))
			t.Cleanup(func() { c.Close() })
			return c
		},
		"websocket": func(t *testing.T) transport.Conn {
			ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
			require.NoError(t, err)
			c := transport.NewWebsocketConn(ws, transport.WithPingInterval(0))
			t.Cleanup(func() { c.Close() })
			return c
		},
	}
}

func send(t *testing.T, c transport.Conn, doc string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.WriteMessage(ctx, []byte(doc)))
}

func receive(t *testing.T, c transport.Conn) string {
	t.Helper()
	got := make(chan string, 1)
	go func() {
		data, err := c.ReadMessage()
		if err != nil {
			got <- "read error: " + err.Error()
			return
		}
		got <- string(data)
	}()
	select {
	case s := <-got:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("no message within 3s")
		return ""
	}
}

// TestEndToEnd covers raw conn → transport → codec → middleware → server → reflect call.
func TestEndToEnd(t *testing.T) {
	logged := make(chan string, 4)
	dialers := startEndpoint(t, endpoint.New(
		endpoint.WithServer(newArith(t, logged)),
		endpoint.WithPingInterval(0),
		endpoint.WithLogger(zaptest.NewLogger(t)),
	))

	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			c := dial(t)

			// 1. a plain call
			send(t, c, `{"jsonrpc":"2.0","id":1,"method":"add","params":[2,3]}`)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":5}`, receive(t, c))

			// 2. an unknown method
			send(t, c, `{"jsonrpc":"2.0","id":"u","method":"nope"}`)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":"u","error":{"code":-32601,"message":"Method not found"}}`, receive(t, c))

			// 3. three values only fit the variadic overload
			send(t, c, `{"jsonrpc":"2.0","id":3,"method":"add","params":[1,2,3]}`)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"result":"variadic"}`, receive(t, c))

			// 4. an object parameter
			send(t, c, `{"jsonrpc":"2.0","id":4,"method":"norm","params":[{"X":3,"Y":4}]}`)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":4,"result":25}`, receive(t, c))

			// 5. a failing notification is never answered: the next thing
			// on the wire is the reply to the following call
			send(t, c, `{"jsonrpc":"2.0","method":"log","params":["disk"]}`)
			select {
			case msg := <-logged:
				assert.Equal(t, "disk", msg)
			case <-time.After(3 * time.Second):
				t.Fatal("notification not dispatched")
			}
			send(t, c, `{"jsonrpc":"2.0","id":6,"method":"ping"}`)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":6,"result":"pong"}`, receive(t, c))

			// 6. a failing call carries the fault
			send(t, c, `{"jsonrpc":"2.0","id":7,"method":"log","params":["x"]}`)
			<-logged
			var resp struct {
				ID    int `json:"id"`
				Error struct {
					Code int `json:"code"`
					Data struct {
						TypeName string `json:"type_name"`
						Message  string `json:"message"`
					} `json:"data"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal([]byte(receive(t, c)), &resp))
			assert.Equal(t, 7, resp.ID)
			assert.Equal(t, -32001, resp.Error.Code)
			assert.Equal(t, "log sink unavailable", resp.Error.Data.Message)
		})
	}
}

func TestUnparsableInputClosesConnection(t *testing.T) {
	dialers := startEndpoint(t, endpoint.New(endpoint.WithServer(newArith(t, nil)), endpoint.WithPingInterval(0)))

	for name, dial := range dialers {
		t.Run(name, func(t *testing.T) {
			c := dial(t)
			send(t, c, `{"jsonrpc":"2.0","id":1,"method":}`)
			assert.JSONEq(t, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`, receive(t, c))

			_, err := c.ReadMessage()
			assert.Error(t, err, "connection should be closed")
		})
	}
}

// TestServerCallsClient issues a call from the accepting side to a raw
// connection, which answers with malformed replies first.
func TestServerCallsClient(t *testing.T) {
	hub := client.New(client.WithTimeout(3 * time.Second))
	defer hub.Close()
	e := endpoint.New(endpoint.WithServer(newArith(t, nil)), endpoint.WithClient(hub), endpoint.WithPingInterval(0))
	dialers := startEndpoint(t, e)

	c := dialers["tcp"](t)
	require.Eventually(t, func() bool { return e.Group().Len() == 1 }, 2*time.Second, 10*time.Millisecond)
	remote := e.Group().Conns()[0]

	f, err := hub.Request(context.Background(), remote, "sum", []int{1, 2}, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"sum","params":[1,2]}`, receive(t, c))

	send(t, c, `{"jsonrpc":"2.0","id":1,"result":3,"error":{"code":-32000,"message":"both"}}`)
	send(t, c, `{"jsonrpc":"2.0","id":1}`)
	time.Sleep(50 * time.Millisecond)
	select {
	case <-f.Done():
		t.Fatal("malformed response completed the call")
	default:
	}
	assert.Equal(t, 1, hub.Pending(remote))

	send(t, c, `{"jsonrpc":"2.0","id":1,"result":3}`)
	v, err := f.AwaitTimeout(3 * time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, "3", string(v.(json.RawMessage)))
}
