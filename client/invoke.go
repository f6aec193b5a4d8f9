package client

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/multierr"

	"mini-jsonrpc/message"
	"mini-jsonrpc/transport"
)

// Mode selects between a call and a notification.
type Mode int

const (
	// ModeAuto sends a notification when the method returns nothing and a
	// call otherwise.
	ModeAuto Mode = iota
	ModeRequest
	ModeNotification
)

func (m Mode) String() string {
	switch m {
	case ModeRequest:
		return "request"
	case ModeNotification:
		return "notification"
	}
	return "auto"
}

// Method describes a remote method the way a typed stub would see it.
type Method struct {
	Name string
	Mode Mode
	// Timeout is the correlation timeout. Zero selects the client default.
	Timeout time.Duration
	// ParamsByObject sends params as an object keyed by ParamNames in
	// declaration order instead of an array.
	ParamsByObject bool
	ParamNames     []string
	// Variadic marks the last argument as a variadic slice. In array mode its
	// elements are spread into the params.
	Variadic bool
	// Returns is the result type. Nil means the method returns nothing.
	Returns reflect.Type
}

// ResolvedMode returns the mode after applying the ModeAuto rule.
func (m Method) ResolvedMode() Mode {
	if m.Mode != ModeAuto {
		return m.Mode
	}
	if m.Returns == nil {
		return ModeNotification
	}
	return ModeRequest
}

// Params builds the params value for args.
func (m Method) Params(args []any) (any, error) {
	if m.ParamsByObject {
		if len(args) != len(m.ParamNames) {
			return nil, fmt.Errorf("client: %s takes %d named params, got %d args", m.Name, len(m.ParamNames), len(args))
		}
		obj := make(orderedParams, len(args))
		for i, a := range args {
			obj[i] = namedParam{name: m.ParamNames[i], value: a}
		}
		return obj, nil
	}

	if len(args) == 0 {
		return nil, nil
	}
	params := make([]any, 0, len(args))
	params = append(params, args[:len(args)-1]...)
	last := args[len(args)-1]
	if m.Variadic {
		if rv := reflect.ValueOf(last); rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			for i := 0; i < rv.Len(); i++ {
				params = append(params, rv.Index(i).Interface())
			}
			return params, nil
		}
	}
	return append(params, last), nil
}

type namedParam struct {
	name  string
	value any
}

// orderedParams encodes as a JSON object keeping insertion order.
type orderedParams []namedParam

func (p orderedParams) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, kv := range p {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(kv.name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(kv.value)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", kv.name, err)
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		buf = append(buf, v...)
	}
	return append(buf, '}'), nil
}

// Invoke calls m on conn. For a notification the returned Future completes
// once the message is written; for a request it completes with the reply.
func (c *Client) Invoke(ctx context.Context, conn transport.Conn, m Method, args ...any) (*Future, error) {
	params, err := m.Params(args)
	if err != nil {
		return nil, err
	}
	if m.ResolvedMode() == ModeNotification {
		if err := c.Notify(ctx, conn, m.Name, params); err != nil {
			return nil, err
		}
		return completedFuture(nil, nil), nil
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	return c.request(ctx, conn, m.Name, params, m.Returns, timeout)
}

// Request sends a call and returns its pending Future. A nil typ delivers
// the result as json.RawMessage.
func (c *Client) Request(ctx context.Context, conn transport.Conn, method string, params any, typ reflect.Type) (*Future, error) {
	return c.request(ctx, conn, method, params, typ, c.timeout)
}

func (c *Client) request(ctx context.Context, conn transport.Conn, method string, params any, typ reflect.Type, timeout time.Duration) (*Future, error) {
	id, err := c.AllocateID(conn)
	if err != nil {
		return nil, err
	}
	req, err := message.NewRequest(message.IntID(id), method, params)
	if err != nil {
		return nil, err
	}
	data, err := c.wire.EncodeRequest(req)
	if err != nil {
		return nil, err
	}

	// The call must be known before the peer can possibly answer it.
	f, err := c.Register(conn, id, typ, timeout)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteMessage(ctx, data); err != nil {
		c.unregister(conn, id)
		return nil, fmt.Errorf("client: send %s: %w", method, err)
	}
	return f, nil
}

// Notify sends a notification. It returns once the message is written.
func (c *Client) Notify(ctx context.Context, conn transport.Conn, method string, params any) error {
	data, err := c.encodeNotification(method, params)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(ctx, data); err != nil {
		return fmt.Errorf("client: send %s: %w", method, err)
	}
	return nil
}

func (c *Client) encodeNotification(method string, params any) ([]byte, error) {
	req, err := message.NewNotification(method, params)
	if err != nil {
		return nil, err
	}
	return c.wire.EncodeRequest(req)
}

// NotifyGroup broadcasts a notification to every connection of g. Failures
// on individual connections are combined.
func (c *Client) NotifyGroup(ctx context.Context, g *transport.Group, method string, params any) error {
	data, err := c.encodeNotification(method, params)
	if err != nil {
		return err
	}
	var errs error
	for _, conn := range g.Conns() {
		if err := conn.WriteMessage(ctx, data); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("client: notify %s on %s: %w", method, conn.ID(), err))
		}
	}
	return errs
}

// InvokeGroup runs m against g: a notification goes to every connection, a
// request to one connection chosen by the balancer.
func (c *Client) InvokeGroup(ctx context.Context, g *transport.Group, m Method, args ...any) (*Future, error) {
	if m.ResolvedMode() == ModeNotification {
		params, err := m.Params(args)
		if err != nil {
			return nil, err
		}
		if err := c.NotifyGroup(ctx, g, m.Name, params); err != nil {
			return nil, err
		}
		return completedFuture(nil, nil), nil
	}
	conn, err := c.balancer.Pick(ctx, g.Conns())
	if err != nil {
		return nil, err
	}
	return c.Invoke(ctx, conn, m, args...)
}

// Call sends a request and waits for its result, decoded as T. The wait
// ends with ctx; the correlation timeout still applies independently.
func Call[T any](ctx context.Context, c *Client, conn transport.Conn, method string, params any) (T, error) {
	var zero T
	f, err := c.Request(ctx, conn, method, params, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return zero, err
	}
	v, err := f.Await(ctx)
	if err != nil || v == nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("client: %s returned %T, want %T", method, v, zero)
	}
	return out, nil
}
