// Package jsonrpc processes JSON-RPC 2.0 payloads, single requests and
// batches, and serves them over HTTP on top of the endpoint package.
//
// # Processing
//
// A Processor resolves a session id to a Dispatcher through a Registry and
// turns a raw payload into a raw response payload:
//
//	reg := jsonrpc.NewRegistry()
//	methods := jsonrpc.NewMethodSet()
//	methods.Register("math", &MathMethods{})
//	reg.Register(jsonrpc.DefaultSessionID, methods)
//
//	p := jsonrpc.NewProcessor(reg)
//	out, err := p.Process(ctx, "", []byte(`{"jsonrpc":"2.0","method":"math.Add","params":[1,2],"id":1}`))
//
// The first '{' or '[' in the payload decides between single and batch mode.
// A payload that fails to decode yields one top-level -32700 error and an
// empty batch yields code 3200. Each batch item is validated (null slot,
// missing method, id type) before dispatch; an invalid item produces an
// error entry and the rest of the batch still runs. Notifications without
// errors produce nothing. An empty output means there is nothing to send.
//
// A batch of one item (a single object, or an array with one element) that
// produces a reply is written as a bare object, with "id":null when a fault
// has no id. Longer batches are written as an array, which is omitted
// entirely if no item produced a reply.
//
// # Methods
//
// MethodSet is a Dispatcher that calls Go functions by reflection. Accepted
// signatures are
//
//	func([ctx context.Context,] args...) ([result] [, error])
//
// Positional params bind by argument order. Named params bind to a single
// struct or map argument. A `_` field tagged `jsonrpc:"name"` on that struct
// overrides the method name:
//
//	type AddParams struct {
//	    _ struct{} `jsonrpc:"add"`
//	    A int      `json:"a"`
//	    B int      `json:"b"`
//	}
//
// Return an *Error to control the code sent back:
//
//	return 0, jsonrpc.NewInvalidParamsError("division by zero")
//
// # HTTP
//
// Endpoint adapts a Processor to endpoint.Handler. Only POST is accepted.
// The session comes from the {session} path value, then the
// X-JSONRPC-Session header, else the default session:
//
//	e := jsonrpc.NewEndpoint(p)
//	mux.Handle("POST /rpc/{session}", e.Handler(authProcessor))
//
// Processor errors are HTTP errors, not JSON-RPC errors.
package jsonrpc
