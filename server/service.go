package server

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"mini-jsonrpc/transport"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	connType    = reflect.TypeOf((*transport.Conn)(nil)).Elem()
)

// methodType is one entry of the method table: a function plus what
// resolution needs to know about its parameters.
type methodType struct {
	name      string // native name
	alias     string
	aliasOnly bool

	fn       reflect.Value
	withCtx  bool           // leading context.Context, not counted in params
	params   []reflect.Type // declared parameters after the context
	connIdx  int            // index in params of the injected connection, -1 if none
	variadic bool

	hasResult bool
	hasError  bool
}

// MethodOption adjusts how a registered function is exposed.
type MethodOption func(*methodType)

// Alias exposes the function under name as well as its native name.
func Alias(name string) MethodOption {
	return func(m *methodType) { m.alias = name }
}

// AliasOnly restricts matching to the alias.
func AliasOnly() MethodOption {
	return func(m *methodType) { m.aliasOnly = true }
}

// matches reports whether the method answers to the requested name.
func (m *methodType) matches(name string) bool {
	if m.alias != "" && m.alias == name {
		return true
	}
	return !m.aliasOnly && m.name == name
}

// arity is the number of JSON values the method consumes, the variadic
// slot counting as one.
func (m *methodType) arity() int {
	if m.connIdx >= 0 {
		return len(m.params) - 1
	}
	return len(m.params)
}

func (m *methodType) String() string {
	if m.alias != "" {
		return fmt.Sprintf("%s(%s)", m.alias, m.fn.Type())
	}
	return fmt.Sprintf("%s(%s)", m.name, m.fn.Type())
}

func newMethodType(name string, fn reflect.Value, opts []MethodOption) (*methodType, error) {
	typ := fn.Type()
	if typ.Kind() != reflect.Func {
		return nil, fmt.Errorf("server: %s is a %s, not a function", name, typ.Kind())
	}

	m := &methodType{name: name, fn: fn, connIdx: -1, variadic: typ.IsVariadic()}
	for _, opt := range opts {
		opt(m)
	}
	if m.aliasOnly && m.alias == "" {
		return nil, fmt.Errorf("server: %s is alias-only but has no alias", name)
	}

	start := 0
	if typ.NumIn() > 0 && typ.In(0) == contextType {
		m.withCtx = true
		start = 1
	}
	for i := start; i < typ.NumIn(); i++ {
		in := typ.In(i)
		switch in {
		case contextType:
			return nil, fmt.Errorf("server: %s takes a context.Context that is not its first parameter", name)
		case connType:
			if m.connIdx >= 0 {
				return nil, fmt.Errorf("server: %s takes more than one transport.Conn", name)
			}
			m.connIdx = len(m.params)
		}
		m.params = append(m.params, in)
	}

	switch typ.NumOut() {
	case 0:
	case 1:
		if typ.Out(0) == errorType {
			m.hasError = true
		} else {
			m.hasResult = true
		}
	case 2:
		if typ.Out(1) != errorType {
			return nil, fmt.Errorf("server: second result of %s must be error, got %s", name, typ.Out(1))
		}
		if typ.Out(0) == errorType {
			return nil, fmt.Errorf("server: %s returns two errors", name)
		}
		m.hasResult, m.hasError = true, true
	default:
		return nil, fmt.Errorf("server: %s returns %d values", name, typ.NumOut())
	}
	return m, nil
}

// Service is the method table of a server. Several functions may share a
// name; together they form an overload set resolved per call from the shape
// of the params.
type Service struct {
	mu      sync.RWMutex
	methods []*methodType // in registration order
}

func NewService() *Service {
	return &Service{}
}

// Register exposes fn under name.
//
// fn may take a leading context.Context, any number of JSON-bound
// parameters, and at most one transport.Conn which is filled with the
// calling connection. It returns nothing, a result, an error, or a result
// and an error.
func (s *Service) Register(name string, fn any, opts ...MethodOption) error {
	if name == "" {
		return fmt.Errorf("server: empty method name")
	}
	if fn == nil {
		return fmt.Errorf("server: nil function for %s", name)
	}
	m, err := newMethodType(name, reflect.ValueOf(fn), opts)
	if err != nil {
		return err
	}
	s.add(m)
	return nil
}

// RegisterReceiver exposes the exported methods of rcvr under their Go
// names. opts is keyed by Go method name. Methods whose signature cannot
// be served are skipped.
func (s *Service) RegisterReceiver(rcvr any, opts map[string][]MethodOption) error {
	if rcvr == nil {
		return fmt.Errorf("server: nil receiver")
	}
	val := reflect.ValueOf(rcvr)
	typ := val.Type()

	var found []*methodType
	for i := 0; i < typ.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		m, err := newMethodType(method.Name, val.Method(i), opts[method.Name])
		if err != nil {
			continue
		}
		found = append(found, m)
	}
	if len(found) == 0 {
		return fmt.Errorf("server: type %s has no exported methods of suitable type", typ)
	}
	for name := range opts {
		if _, ok := typ.MethodByName(name); !ok {
			return fmt.Errorf("server: options given for unknown method %s.%s", typ, name)
		}
	}
	for _, m := range found {
		s.add(m)
	}
	return nil
}

func (s *Service) add(m *methodType) {
	s.mu.Lock()
	s.methods = append(s.methods, m)
	s.mu.Unlock()
}

// lookup returns the methods answering to name, in registration order.
func (s *Service) lookup(name string) []*methodType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*methodType
	for _, m := range s.methods {
		if m.matches(name) {
			out = append(out, m)
		}
	}
	return out
}

// Methods returns the sorted set of names the service answers to.
func (s *Service) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, m := range s.methods {
		if m.alias != "" {
			seen[m.alias] = struct{}{}
		}
		if !m.aliasOnly {
			seen[m.name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
