// Package server dispatches JSON-RPC requests to registered Go functions.
//
// Request processing pipeline:
//
//	Dispatch → Middleware Chain → businessHandler
//	  → name resolution (Service.lookup) → shape resolution (resolve)
//	  → bind params (codec.DecodeValue) → reflect.Call → Response
//
// A notification runs the same pipeline but its response is discarded:
// whatever happens, notifications are never answered.
package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"

	"mini-jsonrpc/codec"
	"mini-jsonrpc/message"
	"mini-jsonrpc/middleware"
	"mini-jsonrpc/rpcerror"
	"mini-jsonrpc/transport"
)

// Server resolves requests against its Service and invokes the chosen function.
type Server struct {
	service     *Service
	codec       codec.Codec
	band        rpcerror.Band
	log         *zap.Logger
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))
}

type Option func(*Server)

// WithService serves an existing method table.
func WithService(svc *Service) Option {
	return func(s *Server) { s.service = svc }
}

// WithCodec sets the codec used to bind params and encode results.
func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

// WithBand sets the band custom error codes are clamped into.
func WithBand(b rpcerror.Band) Option {
	return func(s *Server) { s.band = b }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		codec: codec.Default,
		band:  rpcerror.DefaultBand,
		log:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.service == nil {
		s.service = NewService()
	}
	s.handler = s.businessHandler
	return s
}

// Register exposes fn under name. See Service.Register.
func (s *Server) Register(name string, fn any, opts ...MethodOption) error {
	return s.service.Register(name, fn, opts...)
}

// RegisterReceiver exposes the methods of rcvr. See Service.RegisterReceiver.
func (s *Server) RegisterReceiver(rcvr any, opts map[string][]MethodOption) error {
	return s.service.RegisterReceiver(rcvr, opts)
}

func (s *Server) Service() *Service { return s.service }

// Use appends middlewares. The first one added is the outermost. Use must
// not be called once the server dispatches.
func (s *Server) Use(mws ...middleware.Middleware) {
	s.middlewares = append(s.middlewares, mws...)
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)
}

// Dispatch handles one request arriving on conn. It returns nil for a
// notification and exactly one response, carrying the request id,
// otherwise.
func (s *Server) Dispatch(ctx context.Context, conn transport.Conn, req *message.Request) *message.Response {
	if conn != nil {
		ctx = transport.WithConn(ctx, conn)
	}
	resp := s.handler(ctx, req)
	if req.IsNotification() {
		return nil
	}
	if resp == nil {
		// a middleware swallowed the reply to a call
		s.log.Error("no response produced for request", zap.String("method", req.Method))
		return message.NewError(req.ID, rpcerror.Standard(rpcerror.InternalError))
	}
	return resp
}

// businessHandler is the end of the middleware chain.
func (s *Server) businessHandler(ctx context.Context, req *message.Request) *message.Response {
	log := s.log.With(zap.String("method", req.Method))
	if conn, ok := transport.ConnFromContext(ctx); ok {
		log = log.With(zap.String("conn", conn.ID()))
	}

	candidates := s.service.lookup(req.Method)
	if len(candidates) == 0 {
		log.Debug("method not found")
		return fail(req, rpcerror.Standard(rpcerror.MethodNotFound))
	}

	args, err := splitParams(req.Params)
	if err != nil {
		log.Debug("unsupported params", zap.Error(err))
		return fail(req, rpcerror.Standard(rpcerror.InvalidParams))
	}
	matched := resolve(candidates, args)
	if len(matched) == 0 {
		log.Debug("no overload accepts params", zap.Int("candidates", len(candidates)), zap.Int("args", len(args)))
		return fail(req, rpcerror.Standard(rpcerror.InvalidParams))
	}

	// A value of the right kind may still not convert, 1.5 for an int, so
	// the next matching overload gets its turn.
	var m *methodType
	var in []reflect.Value
	for _, cand := range matched {
		if in, err = s.bind(ctx, cand, args); err == nil {
			m = cand
			break
		}
		log.Debug("cannot bind params", zap.Stringer("target", cand), zap.Error(err))
	}
	if m == nil {
		return fail(req, rpcerror.Standard(rpcerror.InvalidParams))
	}

	result, err := call(m, in)
	if err != nil {
		log.Warn("handler fault",
			zap.Stringer("target", m),
			zap.Bool("notification", req.IsNotification()),
			zap.Error(err))
		return fail(req, s.faultError(err))
	}
	if req.IsNotification() {
		return nil
	}

	raw, err := s.codec.Encode(result)
	if err != nil {
		log.Error("cannot encode result", zap.Error(err))
		return message.NewError(req.ID, rpcerror.Standard(rpcerror.InternalError))
	}
	return message.NewRawResult(req.ID, raw)
}

func fail(req *message.Request, e *rpcerror.Error) *message.Response {
	if req.IsNotification() {
		return nil
	}
	return message.NewError(req.ID, e)
}

// splitParams turns absent or null params into an empty list and rejects
// anything but an array.
func splitParams(params []byte) ([]codec.Value, error) {
	if len(params) == 0 {
		return nil, nil
	}
	v, err := codec.ParseValue(params)
	if err != nil {
		return nil, err
	}
	switch v.Kind() {
	case codec.KindNull:
		return nil, nil
	case codec.KindArray:
		return v.Elements(), nil
	}
	return nil, fmt.Errorf("server: params by %s are not supported", v.Kind())
}

// bind converts args into the call arguments of m.
func (s *Server) bind(ctx context.Context, m *methodType, args []codec.Value) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, len(m.params)+1)
	if m.withCtx {
		in = append(in, reflect.ValueOf(&ctx).Elem())
	}

	j := 0
	last := len(m.params) - 1
	for i, pt := range m.params {
		if i == m.connIdx {
			in = append(in, connValue(ctx))
			continue
		}
		var raw []byte
		if m.variadic && i == last {
			raw = collect(args[j:])
		} else {
			raw = args[j].Raw()
			j++
		}
		v, err := codec.DecodeValue(s.codec, raw, pt)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

// collect encodes the values bound to a variadic slot. A single value is
// passed through as is and may be the whole slice already.
func collect(rest []codec.Value) []byte {
	if len(rest) == 1 {
		return rest[0].Raw()
	}
	buf := []byte{'['}
	for i, v := range rest {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, v.Raw()...)
	}
	return append(buf, ']')
}

func connValue(ctx context.Context) reflect.Value {
	v := reflect.New(connType).Elem()
	if conn, ok := transport.ConnFromContext(ctx); ok {
		v.Set(reflect.ValueOf(conn))
	}
	return v
}

// PanicError is the fault reported for a handler that panicked.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// call invokes m and splits its results. A panic becomes a *PanicError.
func call(m *methodType, in []reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, &PanicError{Value: r}
		}
	}()

	var out []reflect.Value
	if m.variadic {
		out = m.fn.CallSlice(in)
	} else {
		out = m.fn.Call(in)
	}

	if m.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			return nil, e.Interface().(error)
		}
	}
	if m.hasResult {
		return out[0].Interface(), nil
	}
	return nil, nil
}

// errorCoder is implemented by errors that choose their own JSON-RPC code.
type errorCoder interface {
	ErrorCode() int
}

// faultError turns a handler fault into the error sent back. Wrapping
// layers are peeled off so the data describes the underlying fault. Reserved
// protocol errors pass through, other codes are clamped into the band.
func (s *Server) faultError(err error) *rpcerror.Error {
	var rpcErr *rpcerror.Error
	if errors.As(err, &rpcErr) {
		if rpcErr.IsStandard() {
			return rpcErr
		}
		return &rpcerror.Error{Code: s.band.Clamp(rpcErr.Code), Message: rpcErr.Message, Data: rpcErr.Data}
	}

	code := rpcerror.CodeInvocationFault
	var coder errorCoder
	if errors.As(err, &coder) {
		code = coder.ErrorCode()
	}
	if p, ok := err.(*PanicError); ok {
		return &rpcerror.Error{
			Code:    s.band.Clamp(code),
			Message: p.Error(),
			Data:    &rpcerror.ErrorData{TypeName: "panic", Message: fmt.Sprint(p.Value)},
		}
	}
	return s.band.WrapWithMessage(code, err.Error(), rootCause(err))
}

func rootCause(err error) error {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err
		}
		err = next
	}
}
