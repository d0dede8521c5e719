package jsonrpc

import (
	"context"
	"sort"
	"sync"
)

// DefaultSessionID is the session a Processor uses when the caller does not
// name one and no other default was configured.
const DefaultSessionID = "default"

// Dispatcher executes requests for one session.
//
// Handle returns nil when no reply is due (typically a notification).
// Recoverable faults must be returned as a Response carrying an Error, never
// as a panic.
//
// HandleParseFailure is consulted for every fault the processor detects
// before dispatch (parse errors, empty batches, invalid requests). It
// returns the error object to send, which may be fault itself.
type Dispatcher interface {
	Handle(ctx context.Context, req *Request) *Response
	HandleParseFailure(ctx context.Context, raw []byte, fault *Error) *Error
}

// DispatcherFunc adapts a function to a Dispatcher. Parse failures are
// passed through unchanged.
type DispatcherFunc func(ctx context.Context, req *Request) *Response

func (f DispatcherFunc) Handle(ctx context.Context, req *Request) *Response {
	return f(ctx, req)
}

func (f DispatcherFunc) HandleParseFailure(_ context.Context, _ []byte, fault *Error) *Error {
	return fault
}

// Registry maps session ids to dispatchers.
type Registry struct {
	mu          sync.RWMutex
	dispatchers map[string]Dispatcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		dispatchers: make(map[string]Dispatcher),
	}
}

// Register binds d to sessionID, replacing any previous binding.
func (r *Registry) Register(sessionID string, d Dispatcher) {
	if d == nil {
		panic("jsonrpc: nil dispatcher for session " + sessionID)
	}
	r.mu.Lock()
	r.dispatchers[sessionID] = d
	r.mu.Unlock()
}

// Lookup returns the dispatcher bound to sessionID.
func (r *Registry) Lookup(sessionID string) (Dispatcher, bool) {
	r.mu.RLock()
	d, ok := r.dispatchers[sessionID]
	r.mu.RUnlock()
	return d, ok
}

// Sessions returns the registered session ids in sorted order.
func (r *Registry) Sessions() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.dispatchers))
	for id := range r.dispatchers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
