// Package codec turns JSON documents into JSON-RPC messages and back, and
// converts JSON values to and from Go values.
package codec

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/buger/jsonparser"

	"mini-jsonrpc/message"
	"mini-jsonrpc/rpcerror"
)

// ErrMalformedResponse is returned by Wire.Decode for a document that looks
// like a response but cannot be parsed as one. It never closes a connection.
var ErrMalformedResponse = errors.New("codec: malformed response")

// DecodeError is a protocol-level failure that must be answered.
type DecodeError struct {
	ID    json.RawMessage // request id when it could be read, nil otherwise
	Err   *rpcerror.Error // standard error to send back
	Fatal bool            // the connection should be closed after replying
	cause error
}

func (e *DecodeError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("codec: %s", e.Err.Message)
	}
	return fmt.Sprintf("codec: %s: %v", e.Err.Message, e.cause)
}

func (e *DecodeError) Unwrap() error { return e.cause }

// Response builds the error reply for the failed document.
func (e *DecodeError) Response() *message.Response {
	return message.NewError(e.ID, e.Err)
}

// Wire classifies inbound documents and serializes outbound messages.
type Wire struct {
	codec Codec
}

// NewWire returns a Wire that uses c for message serialization. A nil c
// selects Default.
func NewWire(c Codec) *Wire {
	if c == nil {
		c = Default
	}
	return &Wire{codec: c}
}

// Codec returns the value codec used by the wire.
func (w *Wire) Codec() Codec { return w.codec }

// Decode parses one JSON document and classifies it:
//
//   - a document with "method" is a *message.Request;
//   - a document with "result" or "error" is a *message.Response;
//   - anything else is an invalid request.
//
// Failures on the request side are *DecodeError values. A response that
// cannot be parsed yields ErrMalformedResponse.
func (w *Wire) Decode(raw []byte) (message.Message, error) {
	v, err := ParseValue(raw)
	if err != nil {
		return nil, &DecodeError{Err: rpcerror.Standard(rpcerror.ParseError), Fatal: true, cause: err}
	}
	if v.Kind() == KindArray {
		return nil, invalidRequest(nil, errors.New("batch requests are not supported"))
	}
	if v.Kind() != KindObject {
		return nil, invalidRequest(nil, fmt.Errorf("expected an object, got %s", v.Kind()))
	}

	switch {
	case v.Has("method"):
		req, err := w.decodeRequest(v)
		if err != nil {
			return nil, err
		}
		return req, nil
	case v.Has("result") || v.Has("error"):
		resp, err := w.decodeResponse(v)
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	return nil, invalidRequest(readableID(v), errors.New("neither a request nor a response"))
}

func (w *Wire) decodeRequest(v Value) (*message.Request, error) {
	id := readableID(v)
	var req message.Request
	if err := w.codec.Decode(v.raw, &req); err != nil {
		return nil, invalidRequest(id, err)
	}
	if req.Version != message.Version {
		return nil, invalidRequest(id, fmt.Errorf("unsupported jsonrpc version %q", req.Version))
	}
	if err := req.Validate(); err != nil {
		return nil, invalidRequest(id, err)
	}
	if message.IsNullID(req.ID) {
		req.ID = nil
	}
	return &req, nil
}

type responseFields struct {
	Version string          `json:"jsonrpc"`
	Error   *rpcerror.Error `json:"error"`
}

func (w *Wire) decodeResponse(v Value) (*message.Response, error) {
	var f responseFields
	if err := w.codec.Decode(v.raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if f.Version != message.Version {
		return nil, fmt.Errorf("%w: unsupported jsonrpc version %q", ErrMalformedResponse, f.Version)
	}

	id, hasID := v.Get("id")
	if !hasID {
		return nil, fmt.Errorf("%w: missing id", ErrMalformedResponse)
	}
	switch id.Kind() {
	case KindNull, KindNumber, KindString:
	default:
		return nil, fmt.Errorf("%w: id must be a string, a number or null", ErrMalformedResponse)
	}

	errVal, hasErr := v.Get("error")
	hasErr = hasErr && !errVal.IsNull()
	result, hasResult := v.Get("result")

	resp := &message.Response{Version: f.Version}
	if !id.IsNull() {
		resp.ID = id.Raw()
	}
	switch {
	case hasErr && hasResult:
		return nil, fmt.Errorf("%w: both result and error are set", ErrMalformedResponse)
	case hasErr:
		if errVal.Kind() != KindObject {
			return nil, fmt.Errorf("%w: error must be an object", ErrMalformedResponse)
		}
		if _, err := jsonparser.GetInt(errVal.raw, "code"); err != nil {
			return nil, fmt.Errorf("%w: error code: %v", ErrMalformedResponse, err)
		}
		resp.Error = f.Error
	case hasResult:
		resp.Result = result.Raw()
	default:
		return nil, fmt.Errorf("%w: neither result nor error is set", ErrMalformedResponse)
	}
	return resp, nil
}

// EncodeRequest serializes a request.
func (w *Wire) EncodeRequest(req *message.Request) ([]byte, error) {
	data, err := w.codec.Encode(req)
	if err != nil {
		return nil, fmt.Errorf("codec: encode request %q: %w", req.Method, err)
	}
	return data, nil
}

// EncodeResponse serializes a response. When that fails it still returns the
// bytes of an INTERNAL_ERROR reply for the same id, together with the error,
// so the caller can make a best-effort reply before reporting the failure.
func (w *Wire) EncodeResponse(resp *message.Response) ([]byte, error) {
	data, err := w.codec.Encode(resp)
	if err == nil {
		return data, nil
	}
	fallback, ferr := w.codec.Encode(message.NewError(resp.ID, rpcerror.Standard(rpcerror.InternalError)))
	if ferr != nil {
		// the id itself cannot be written
		fallback, _ = w.codec.Encode(message.NewError(nil, rpcerror.Standard(rpcerror.InternalError)))
	}
	return fallback, fmt.Errorf("codec: encode response: %w", err)
}

// readableID returns the id of a request-like object when it is a string or
// a number.
func readableID(v Value) json.RawMessage {
	id, ok := v.Get("id")
	if !ok {
		return nil
	}
	switch id.Kind() {
	case KindNumber, KindString:
		return id.Raw()
	}
	return nil
}

func invalidRequest(id json.RawMessage, cause error) *DecodeError {
	return &DecodeError{
		ID:    id,
		Err:   rpcerror.Standard(rpcerror.InvalidRequest),
		Fatal: id == nil,
		cause: cause,
	}
}
