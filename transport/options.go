package transport

import (
	"time"

	"go.uber.org/zap"

	"mini-jsonrpc/protocol"
)

const (
	DefaultPingInterval = 30 * time.Second
	pingWriteTimeout    = 5 * time.Second
	pongTimeout         = 30 * time.Second
	defaultReadLimit    = 32 * 1024 * 1024
)

type options struct {
	logger       *zap.Logger
	framing      protocol.Framing
	pingInterval time.Duration
	readLimit    int64
}

func defaultOptions() options {
	return options{
		logger:       zap.NewNop(),
		framing:      protocol.FramingJSON,
		pingInterval: DefaultPingInterval,
		readLimit:    defaultReadLimit,
	}
}

// Option configures a connection.
type Option func(*options)

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithFraming selects how documents are delimited on a stream connection.
// It has no effect on WebSocket connections.
func WithFraming(f protocol.Framing) Option {
	return func(o *options) { o.framing = f }
}

// WithPingInterval sets how long a connection may stay write-idle before a
// keep-alive is sent. Zero disables keep-alives.
func WithPingInterval(d time.Duration) Option {
	return func(o *options) { o.pingInterval = d }
}

// WithReadLimit bounds the size of an inbound WebSocket message.
func WithReadLimit(n int64) Option {
	return func(o *options) { o.readLimit = n }
}
