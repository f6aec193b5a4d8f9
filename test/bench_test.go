package test

import (
	"context"
	"net"
	"testing"
	"time"

	"mini-jsonrpc/client"
	"mini-jsonrpc/codec"
	"mini-jsonrpc/endpoint"
	"mini-jsonrpc/message"
	"mini-jsonrpc/peer"
	"mini-jsonrpc/protocol"
)

// ---- setup ----

func setupPeers(b *testing.B, framing protocol.Framing) *peer.Peer {
	srv := endpoint.New(endpoint.WithServer(newArith(b, nil)), endpoint.WithFraming(framing), endpoint.WithPingInterval(0))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		b.Fatal(err)
	}
	go srv.Serve(l)

	c := client.New(client.WithTimeout(5 * time.Second))
	caller := endpoint.New(endpoint.WithClient(c), endpoint.WithFraming(framing), endpoint.WithPingInterval(0))
	p, err := caller.DialTCP(context.Background(), l.Addr().String())
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		caller.Shutdown(3 * time.Second)
		srv.Shutdown(3 * time.Second)
		c.Close()
	})
	return p
}

// ---- benchmarks ----

// a single goroutine calling serially
func BenchmarkSerialCall(b *testing.B) {
	p := setupPeers(b, protocol.FramingJSON)
	ctx := context.Background()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		if _, err := peer.Call[int](ctx, p, "add", []int{1, 2}); err != nil {
			b.Fatal(err)
		}
	}
}

// concurrent calls multiplexed on one connection
func BenchmarkConcurrentCall(b *testing.B) {
	for _, framing := range []protocol.Framing{protocol.FramingJSON, protocol.FramingLength} {
		b.Run(string(framing), func(b *testing.B) {
			p := setupPeers(b, framing)
			b.ResetTimer()
			b.RunParallel(func(pb *testing.PB) {
				ctx := context.Background()
				for pb.Next() {
					if _, err := peer.Call[int](ctx, p, "add", []int{1, 2}); err != nil {
						b.Error(err)
						return
					}
				}
			})
		})
	}
}

// classifying and encoding documents, no network
func BenchmarkWire(b *testing.B) {
	w := codec.NewWire(nil)
	req := []byte(`{"jsonrpc":"2.0","id":12,"method":"add","params":[1,2]}`)
	resp := message.NewRawResult(message.IntID(12), []byte("3"))

	b.Run("decode", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := w.Decode(req); err != nil {
				b.Fatal(err)
			}
		}
	})
	b.Run("encode", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			if _, err := w.EncodeResponse(resp); err != nil {
				b.Fatal(err)
			}
		}
	})
}
