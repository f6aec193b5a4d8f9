package message

import (
	"encoding/json"
	"fmt"

	"mini-jsonrpc/rpcerror"
)

// NewRequest builds a call with the given id. params may be nil, a
// json.RawMessage, or any value that marshals to an array or object.
func NewRequest(id json.RawMessage, method string, params any) (*Request, error) {
	if method == "" {
		return nil, fmt.Errorf("message: empty method name")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	return &Request{Version: Version, ID: id, Method: method, Params: raw}, nil
}

// NewNotification builds a request without an id.
func NewNotification(method string, params any) (*Request, error) {
	return NewRequest(nil, method, params)
}

// NewResult builds a success response. A result that cannot be marshaled
// turns into an INTERNAL_ERROR response for the same id.
func NewResult(id json.RawMessage, v any) *Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return NewError(id, rpcerror.Standard(rpcerror.InternalError))
	}
	return &Response{Version: Version, ID: id, Result: raw}
}

// NewRawResult builds a success response from an already encoded result.
func NewRawResult(id json.RawMessage, raw json.RawMessage) *Response {
	return &Response{Version: Version, ID: id, Result: raw}
}

// NewError builds an error response.
func NewError(id json.RawMessage, err *rpcerror.Error) *Response {
	return &Response{Version: Version, ID: id, Error: err}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("message: marshal params: %w", err)
	}
	switch firstByte(raw) {
	case '[', '{':
		return raw, nil
	case 'n':
		return nil, nil
	}
	return nil, fmt.Errorf("message: params must encode to an array or object, got %s", raw)
}
