package protocol

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrBadFrame reports a stream that cannot be split into documents any more.
// The connection has to be closed after it.
var ErrBadFrame = errors.New("protocol: bad frame")

// Framing selects how documents are delimited on a stream.
type Framing string

const (
	FramingJSON   Framing = "json"
	FramingLength Framing = "length"
)

// ParseFraming validates a framing name.
func ParseFraming(s string) (Framing, error) {
	switch Framing(s) {
	case FramingJSON, FramingLength:
		return Framing(s), nil
	case "":
		return FramingJSON, nil
	}
	return "", fmt.Errorf("protocol: unknown framing %q", s)
}

// Framer reads and writes whole JSON documents. Reads and writes may run
// concurrently with each other but not with themselves.
type Framer interface {
	ReadFrame() ([]byte, error)
	WriteFrame(body []byte) error
}

// Heartbeater is implemented by framers that can send a keep-alive frame.
type Heartbeater interface {
	WriteHeartbeat() error
}

// Ensure returns rw itself when it already frames documents, otherwise it
// wraps rw in a single framer of the requested kind. Calling Ensure on its
// own result never stacks a second framer.
func Ensure(rw io.ReadWriter, framing Framing) Framer {
	if f, ok := rw.(Framer); ok {
		return f
	}
	if framing == FramingLength {
		return NewLengthFramer(rw)
	}
	return NewJSONFramer(rw)
}

// LengthFramer frames documents with the fixed header.
type LengthFramer struct {
	r io.Reader
	w io.Writer
}

func NewLengthFramer(rw io.ReadWriter) *LengthFramer {
	return &LengthFramer{r: bufio.NewReader(rw), w: rw}
}

// ReadFrame returns the next data frame body. Heartbeat frames are consumed
// silently.
func (f *LengthFramer) ReadFrame() ([]byte, error) {
	for {
		h, body, err := Decode(f.r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
		}
		if h.MsgType == MsgTypeHeartbeat {
			continue
		}
		return body, nil
	}
}

func (f *LengthFramer) WriteFrame(body []byte) error {
	return Encode(f.w, &Header{MsgType: MsgTypeData}, body)
}

func (f *LengthFramer) WriteHeartbeat() error {
	return Encode(f.w, &Header{MsgType: MsgTypeHeartbeat}, nil)
}

// JSONFramer delimits documents by their own structure: objects and arrays
// end at their closing bracket, so no extra bytes go on the wire.
type JSONFramer struct {
	dec *json.Decoder
	w   io.Writer
}

func NewJSONFramer(rw io.ReadWriter) *JSONFramer {
	return &JSONFramer{dec: json.NewDecoder(rw), w: rw}
}

func (f *JSONFramer) ReadFrame() ([]byte, error) {
	var raw json.RawMessage
	if err := f.dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return raw, nil
}

// WriteFrame writes the document followed by a newline, which keeps the
// stream readable for line-oriented peers.
func (f *JSONFramer) WriteFrame(body []byte) error {
	buf := make([]byte, 0, len(body)+1)
	buf = append(buf, body...)
	buf = append(buf, '\n')
	_, err := f.w.Write(buf)
	return err
}
