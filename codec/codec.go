package codec

import (
	"bytes"
	"fmt"
	"reflect"
)

// Codec converts between Go values and their JSON representation.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

// Default is the codec used when none is configured.
var Default Codec = &JSONCodec{}

// DecodeValue decodes data into a new value of type t.
//
// A bare value is accepted where t is a slice or array: 3 decodes into
// []int{3} the same way [3] does.
func DecodeValue(c Codec, data []byte, t reflect.Type) (reflect.Value, error) {
	ptr := reflect.New(t)
	err := c.Decode(data, ptr.Interface())
	if err == nil {
		return ptr.Elem(), nil
	}
	if !isSequence(t) || startsWith(data, '[') || isNull(data) {
		return reflect.Value{}, fmt.Errorf("codec: decode %s into %s: %w", c.Name(), t, err)
	}

	wrapped := make([]byte, 0, len(data)+2)
	wrapped = append(wrapped, '[')
	wrapped = append(wrapped, bytes.TrimSpace(data)...)
	wrapped = append(wrapped, ']')
	ptr = reflect.New(t)
	if err2 := c.Decode(wrapped, ptr.Interface()); err2 != nil {
		return reflect.Value{}, fmt.Errorf("codec: decode %s into %s: %w", c.Name(), t, err)
	}
	return ptr.Elem(), nil
}

func isSequence(t reflect.Type) bool {
	if t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 {
		return false // []byte decodes from a base64 string
	}
	return t.Kind() == reflect.Slice || t.Kind() == reflect.Array
}

func startsWith(data []byte, c byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && data[0] == c
}

func isNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}
