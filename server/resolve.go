package server

import (
	"encoding/json"
	"reflect"

	"mini-jsonrpc/codec"
)

var (
	rawMessageType = reflect.TypeOf(json.RawMessage(nil))
	jsonNumberType = reflect.TypeOf(json.Number(""))
)

// resolve returns the candidates whose parameters fit args, in the order
// they should be tried: fixed-arity matches before variadic ones, each tier
// in registration order. Callers should not depend on which of two equally
// shaped overloads is chosen.
func resolve(candidates []*methodType, args []codec.Value) []*methodType {
	var fixed, variadic []*methodType
	for _, m := range candidates {
		if !m.accepts(args) {
			continue
		}
		if m.variadic {
			variadic = append(variadic, m)
		} else {
			fixed = append(fixed, m)
		}
	}
	return append(fixed, variadic...)
}

// accepts walks the parameters left to right against args. The injected
// connection consumes no value.
func (m *methodType) accepts(args []codec.Value) bool {
	n := m.arity()
	if n == 0 {
		return len(args) == 0
	}
	if !m.variadic && len(args) != n {
		return false
	}
	if m.variadic && len(args) < n-1 {
		return false
	}

	j := 0
	last := len(m.params) - 1
	for i, pt := range m.params {
		if i == m.connIdx {
			continue
		}
		if m.variadic && i == last {
			return acceptsRest(args[j:], pt)
		}
		if !compatible(args[j], pt) {
			return false
		}
		j++
	}
	return true
}

// acceptsRest checks the values collected into a variadic slot. A single
// value may bind to the slice type itself.
func acceptsRest(rest []codec.Value, slice reflect.Type) bool {
	if len(rest) == 1 && compatible(rest[0], slice) {
		return true
	}
	for _, v := range rest {
		if !compatible(v, slice.Elem()) {
			return false
		}
	}
	return true
}

// compatible reports whether a JSON value of v's kind can bind to t.
func compatible(v codec.Value, t reflect.Type) bool {
	if t == rawMessageType || isEmptyInterface(t) {
		return true
	}
	if v.Kind() == codec.KindNull {
		return !isPrimitive(t)
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch v.Kind() {
	case codec.KindString:
		return isText(t)
	case codec.KindNumber:
		return isNumeric(t)
	case codec.KindBoolean:
		return t.Kind() == reflect.Bool
	case codec.KindArray:
		if t.Kind() != reflect.Slice && t.Kind() != reflect.Array {
			return false
		}
		elems := v.Elements()
		return len(elems) == 0 || compatible(elems[0], t.Elem())
	case codec.KindObject:
		switch t.Kind() {
		case reflect.Struct, reflect.Map:
			return true
		}
	}
	return false
}

func isEmptyInterface(t reflect.Type) bool {
	return t.Kind() == reflect.Interface && t.NumMethod() == 0
}

func isPrimitive(t reflect.Type) bool {
	return t.Kind() == reflect.Bool || isNumeric(t)
}

func isNumeric(t reflect.Type) bool {
	if t == jsonNumberType {
		return true
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

// isText covers strings and []byte, which travels as base64.
func isText(t reflect.Type) bool {
	return t.Kind() == reflect.String ||
		t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}
