// Package message defines the JSON-RPC 2.0 messages exchanged between peers.
//
// Request and Response are the two envelopes that travel over a connection.
// They are built once, serialized by the codec layer and discarded.
//
//   - Request:  method is set; id is absent for a notification.
//   - Response: exactly one of result / error; id echoes the request, or is
//     null when the request id could not be determined.
package message

import (
	"bytes"
	"encoding/json"
	"errors"

	"mini-jsonrpc/rpcerror"
)

// Version is the only protocol version this module speaks.
const Version = "2.0"

var null = json.RawMessage("null")

// Message is implemented by *Request and *Response.
type Message interface {
	isMessage()
}

// Request is a call or a notification.
type Request struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`     // absent for notifications
	Method  string          `json:"method"`           // never empty
	Params  json.RawMessage `json:"params,omitempty"` // array, object or absent
}

func (*Request) isMessage() {}

// IsNotification reports whether no reply is expected.
func (r *Request) IsNotification() bool {
	return IsNullID(r.ID)
}

// Validate checks the invariants of a decoded request.
func (r *Request) Validate() error {
	if r.Method == "" {
		return errors.New("message: request method is empty")
	}
	if !IsNullID(r.ID) && !validID(r.ID) {
		return errors.New("message: request id must be a string, a number or null")
	}
	if len(r.Params) > 0 {
		switch firstByte(r.Params) {
		case '[', '{', 'n':
		default:
			return errors.New("message: request params must be an array or an object")
		}
	}
	return nil
}

func (r *Request) String() string {
	b, _ := json.Marshal(r)
	return string(b)
}

// Response is a success or an error reply.
type Response struct {
	Version string
	ID      json.RawMessage // null when the request id was undeterminable
	Result  json.RawMessage // explicit null on success without a value
	Error   *rpcerror.Error
}

func (*Response) isMessage() {}

// IsError reports whether this is an error reply.
func (r *Response) IsError() bool {
	return r.Error != nil
}

type resultEnvelope struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
}

type errorEnvelope struct {
	Version string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Error   *rpcerror.Error `json:"error"`
}

// MarshalJSON always writes the id (null when unknown) and exactly one of
// result / error. An empty result is written as an explicit null.
func (r *Response) MarshalJSON() ([]byte, error) {
	version := r.Version
	if version == "" {
		version = Version
	}
	id := r.ID
	if len(id) == 0 {
		id = null
	}
	if r.Error != nil {
		return json.Marshal(&errorEnvelope{Version: version, ID: id, Error: r.Error})
	}
	result := r.Result
	if len(result) == 0 {
		result = null
	}
	return json.Marshal(&resultEnvelope{Version: version, ID: id, Result: result})
}

func (r *Response) String() string {
	b, err := r.MarshalJSON()
	if err != nil {
		return "<unencodable response>"
	}
	return string(b)
}

func firstByte(raw []byte) byte {
	raw = bytes.TrimLeft(raw, " \t\r\n")
	if len(raw) == 0 {
		return 0
	}
	return raw[0]
}
