package codec

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/buger/jsonparser"
)

// Kind is the JSON type of a Value.
type Kind int

const (
	KindInvalid Kind = iota
	KindNull
	KindString
	KindNumber
	KindArray
	KindObject
	KindBoolean
)

var kindNames = [...]string{
	KindInvalid: "invalid",
	KindNull:    "null",
	KindString:  "string",
	KindNumber:  "number",
	KindArray:   "array",
	KindObject:  "object",
	KindBoolean: "boolean",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "invalid"
	}
	return kindNames[k]
}

// ErrInvalidJSON is returned by ParseValue for input that is not one JSON document.
var ErrInvalidJSON = errors.New("codec: invalid json")

// Value is an undecoded JSON value together with its kind.
type Value struct {
	raw  []byte
	kind Kind
}

// ParseValue validates raw as a single JSON document and classifies it.
func ParseValue(raw []byte) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || !json.Valid(raw) {
		return Value{}, ErrInvalidJSON
	}
	_, t, _, err := jsonparser.Get(raw)
	if err != nil {
		return Value{}, ErrInvalidJSON
	}
	return Value{raw: raw, kind: kindOf(t)}, nil
}

func newValue(v []byte, t jsonparser.ValueType) Value {
	if t == jsonparser.String {
		// jsonparser hands out string contents without the quotes
		quoted := make([]byte, 0, len(v)+2)
		quoted = append(quoted, '"')
		quoted = append(quoted, v...)
		quoted = append(quoted, '"')
		v = quoted
	}
	return Value{raw: v, kind: kindOf(t)}
}

func kindOf(t jsonparser.ValueType) Kind {
	switch t {
	case jsonparser.Null:
		return KindNull
	case jsonparser.String:
		return KindString
	case jsonparser.Number:
		return KindNumber
	case jsonparser.Array:
		return KindArray
	case jsonparser.Object:
		return KindObject
	case jsonparser.Boolean:
		return KindBoolean
	}
	return KindInvalid
}

func (v Value) Kind() Kind { return v.kind }

// Raw returns the encoded value.
func (v Value) Raw() json.RawMessage { return json.RawMessage(v.raw) }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Elements splits an array into its element values. It returns nil for
// anything that is not an array.
func (v Value) Elements() []Value {
	if v.kind != KindArray {
		return nil
	}
	elems := []Value{}
	_, _ = jsonparser.ArrayEach(v.raw, func(value []byte, t jsonparser.ValueType, _ int, err error) {
		if err != nil {
			return
		}
		elems = append(elems, newValue(value, t))
	})
	return elems
}

// Has reports whether an object carries the key, whatever its value.
func (v Value) Has(key string) bool {
	if v.kind != KindObject {
		return false
	}
	_, t, _, err := jsonparser.Get(v.raw, key)
	return err == nil && t != jsonparser.NotExist
}

// Get returns the value stored under key in an object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	raw, t, _, err := jsonparser.Get(v.raw, key)
	if err != nil || t == jsonparser.NotExist {
		return Value{}, false
	}
	return newValue(raw, t), true
}

func (v Value) String() string { return string(v.raw) }
