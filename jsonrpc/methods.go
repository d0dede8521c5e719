package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// rpcMethod holds reflection data for a registered RPC method.
type rpcMethod struct {
	name       string
	fn         reflect.Value
	hasCtx     bool
	argTypes   []reflect.Type
	paramNames []string // required JSON names when the only argument is a struct
	hasResult  bool
	hasError   bool
}

// MethodSet is a Dispatcher that invokes Go methods and functions by name.
//
// Accepted signatures:
//
//	func([ctx context.Context,] args...) ([result] [, error])
//
// Positional params (a JSON array) bind to the arguments in order and must
// match their count. Named params (a JSON object) bind to a single struct or
// map argument; every json-tagged struct field without omitempty must be
// present. Absent or null params are only accepted by methods without
// arguments.
type MethodSet struct {
	mu             sync.RWMutex
	methods        map[string]*rpcMethod
	logger         zerolog.Logger
	onParseFailure func(ctx context.Context, raw []byte, fault *Error) *Error
}

// MethodSetOption configures a MethodSet.
type MethodSetOption func(*MethodSet)

// WithMethodLogger sets the logger used to report recovered panics.
func WithMethodLogger(l zerolog.Logger) MethodSetOption {
	return func(s *MethodSet) {
		s.logger = l
	}
}

// WithParseFailureHandler installs a hook that may rewrite the faults the
// processor reports before dispatch. Returning nil leaves the fault unchanged.
func WithParseFailureHandler(fn func(ctx context.Context, raw []byte, fault *Error) *Error) MethodSetOption {
	return func(s *MethodSet) {
		s.onParseFailure = fn
	}
}

// NewMethodSet creates an empty method set.
func NewMethodSet(opts ...MethodSetOption) *MethodSet {
	s := &MethodSet{
		methods: make(map[string]*rpcMethod),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds the exported methods of receiver with valid signatures.
// The namespace prefixes method names ("math" + "Add" -> "math.Add"); use an
// empty namespace for bare names. A `_` field tagged `jsonrpc:"name"` on a
// struct argument overrides the method name. Name collisions panic.
func (s *MethodSet) Register(namespace string, receiver any) {
	val := reflect.ValueOf(receiver)
	typ := val.Type()

	for i := 0; i < val.NumMethod(); i++ {
		method := typ.Method(i)
		if !method.IsExported() {
			continue
		}
		m, ok := parseFunc(val.Method(i), method.Name)
		if !ok {
			continue
		}
		if namespace != "" {
			m.name = namespace + "." + m.name
		}
		s.add(m)
	}
}

// RegisterFunc adds fn under name. It panics if fn is not a function with a
// valid signature or if name is taken.
func (s *MethodSet) RegisterFunc(name string, fn any) {
	val := reflect.ValueOf(fn)
	if val.Kind() != reflect.Func {
		panic("jsonrpc: RegisterFunc requires a function: " + name)
	}
	m, ok := parseFunc(val, name)
	if !ok {
		panic("jsonrpc: invalid method signature: " + name)
	}
	m.name = name
	s.add(m)
}

func (s *MethodSet) add(m *rpcMethod) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.methods[m.name]; exists {
		panic("jsonrpc: method name collision: " + m.name)
	}
	s.methods[m.name] = m
}

// Names returns the registered method names in sorted order.
func (s *MethodSet) Names() []string {
	s.mu.RLock()
	names := make([]string, 0, len(s.methods))
	for name := range s.methods {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Handle implements Dispatcher. Notifications are invoked but never answered.
func (s *MethodSet) Handle(ctx context.Context, req *Request) *Response {
	s.mu.RLock()
	m, ok := s.methods[req.Method]
	s.mu.RUnlock()

	var (
		result any
		err    error
	)
	if !ok {
		err = NewMethodNotFoundError("method not found: " + req.Method)
	} else {
		result, err = s.call(ctx, m, req.Params)
	}

	if req.IsNotification() {
		if err != nil {
			s.logger.Debug().Err(err).Str("method", req.Method).Msg("jsonrpc: notification failed")
		}
		return nil
	}
	resp := &Response{JSONRPC: Version, ID: req.ID}
	if err != nil {
		resp.Error = mapError(err)
	} else {
		resp.Result = result
	}
	return resp
}

// HandleParseFailure implements Dispatcher.
func (s *MethodSet) HandleParseFailure(ctx context.Context, raw []byte, fault *Error) *Error {
	if s.onParseFailure == nil {
		return fault
	}
	return s.onParseFailure(ctx, raw, fault)
}

func (s *MethodSet) call(ctx context.Context, m *rpcMethod, params json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("method", m.name).Msg("jsonrpc: method panicked")
			result, err = nil, NewInternalError("internal error")
		}
	}()

	bound, err := m.bind(params)
	if err != nil {
		return nil, err
	}
	args := make([]reflect.Value, 0, len(bound)+1)
	if m.hasCtx {
		if ctx == nil {
			ctx = context.Background()
		}
		args = append(args, reflect.ValueOf(ctx))
	}
	args = append(args, bound...)

	out := m.fn.Call(args)
	if m.hasResult {
		result = out[0].Interface()
	}
	if m.hasError {
		if e := out[len(out)-1]; !e.IsNil() {
			err = e.Interface().(error)
		}
	}
	return result, err
}

// bind decodes params into argument values.
func (m *rpcMethod) bind(params json.RawMessage) ([]reflect.Value, error) {
	params = bytes.TrimSpace(params)
	if len(params) == 0 || bytes.Equal(params, nullValue) {
		if len(m.argTypes) == 0 {
			return nil, nil
		}
		return nil, NewInvalidParamsError("missing params")
	}

	switch params[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(params, &list); err != nil {
			return nil, NewInvalidParamsError("invalid params")
		}
		if len(list) != len(m.argTypes) {
			return nil, NewInvalidParamsError("invalid number of params")
		}
		args := make([]reflect.Value, len(list))
		for i, raw := range list {
			v := reflect.New(m.argTypes[i])
			if err := json.Unmarshal(raw, v.Interface()); err != nil {
				return nil, NewInvalidParamsError("invalid params")
			}
			args[i] = v.Elem()
		}
		return args, nil

	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(params, &fields); err != nil {
			return nil, NewInvalidParamsError("invalid params")
		}
		if len(m.argTypes) == 0 {
			if len(fields) > 0 {
				return nil, NewInvalidParamsError("method takes no params")
			}
			return nil, nil
		}
		if len(m.argTypes) != 1 || !acceptsNamed(m.argTypes[0]) {
			return nil, NewInvalidParamsError("named params require a single struct or map argument")
		}
		v := reflect.New(m.argTypes[0])
		if err := json.Unmarshal(params, v.Interface()); err != nil {
			return nil, NewInvalidParamsError("invalid params")
		}
		for _, name := range m.paramNames {
			if _, ok := fields[name]; !ok {
				return nil, NewInvalidParamsError("missing param: " + name)
			}
		}
		return []reflect.Value{v.Elem()}, nil
	}
	return nil, NewInvalidParamsError("params must be an array or an object")
}

func acceptsNamed(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct || t.Kind() == reflect.Map
}

// parseFunc extracts signature information from fn via reflection.
// fn must not carry a receiver argument (use a bound method value).
func parseFunc(fn reflect.Value, name string) (*rpcMethod, bool) {
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, false
	}

	m := &rpcMethod{name: name, fn: fn}
	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		m.hasCtx = true
		first = 1
	}
	for i := first; i < ft.NumIn(); i++ {
		if ft.In(i) == contextType {
			return nil, false
		}
		m.argTypes = append(m.argTypes, ft.In(i))
	}

	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			m.hasError = true
		} else {
			m.hasResult = true
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, false
		}
		m.hasResult, m.hasError = true, true
	default:
		return nil, false
	}

	if len(m.argTypes) == 1 {
		st := m.argTypes[0]
		if st.Kind() == reflect.Pointer {
			st = st.Elem()
		}
		if st.Kind() == reflect.Struct {
			m.paramNames = structParamNames(st, &m.name)
		}
	}
	return m, true
}

// structParamNames returns the required JSON member names of st and applies
// a `jsonrpc` name override found on a `_` field.
func structParamNames(st reflect.Type, name *string) []string {
	var names []string
	for i := 0; i < st.NumField(); i++ {
		field := st.Field(i)
		if field.Name == "_" {
			if tag := field.Tag.Get("jsonrpc"); tag != "" {
				*name = tag
			}
			continue
		}
		if !field.IsExported() {
			continue
		}
		jsonTag := field.Tag.Get("json")
		if jsonTag == "" {
			names = append(names, field.Name)
			continue
		}
		parts := strings.Split(jsonTag, ",")
		if parts[0] == "-" {
			continue
		}
		optional := false
		for _, opt := range parts[1:] {
			if opt == "omitempty" || opt == "omitzero" {
				optional = true
			}
		}
		if optional {
			continue
		}
		if parts[0] == "" {
			names = append(names, field.Name)
		} else {
			names = append(names, parts[0])
		}
	}
	return names
}
