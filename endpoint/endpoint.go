// Package endpoint provides the typed HTTP handler used to carry JSON-RPC
// payloads (and any other small API surface) over net/http.
//
// A request goes through three phases:
//
//  1. Processors run in order. Each may decorate the request context (sessions,
//     authentication) or short-circuit with an error.
//  2. The request is decoded into a typed params struct (see Unmarshal) and
//     passed to the EndpointFunc, which returns a Renderer.
//  3. Deferred hooks run, then the Renderer writes status, headers and body.
//
// Errors returned from any phase are written as plain-text HTTP errors; an
// *EndpointError selects the status code.
package endpoint

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
)

// EndpointError carries the HTTP status for a failed request. Message, when
// set, replaces the status text in the response body; Cause is only logged.
type EndpointError struct {
	Status int
	// Message is a short, human-readable description suitable for an HTTP error body.
	Message string
	Cause   error
}

// text is the client-visible message.
func (e *EndpointError) text() string {
	switch {
	case e.Message != "":
		return e.Message
	case http.StatusText(e.Status) != "":
		return http.StatusText(e.Status)
	}
	return "unknown error"
}

func (e *EndpointError) Error() string {
	if e == nil {
		return "endpoint: error: <nil>"
	}
	if e.Cause == nil {
		return e.text()
	}
	return e.text() + ": " + e.Cause.Error()
}

func (e *EndpointError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Error returns an *EndpointError. An err that already wraps one is
// returned as is, so the innermost status wins.
func Error(status int, message string, err error) error {
	return newEndpointError(status, message, err)
}

func newEndpointError(status int, message string, err error) error {
	if _, ok := asEndpointError(err); ok {
		return err
	}
	return &EndpointError{Status: status, Message: message, Cause: err}
}

func asEndpointError(err error) (*EndpointError, bool) {
	var ee *EndpointError
	if errors.As(err, &ee) && ee != nil {
		return ee, true
	}
	return nil, false
}

// StatusCode returns the HTTP status an EndpointHandler writes for err:
// the EndpointError status when it is valid, 500 otherwise.
func StatusCode(err error) int {
	if ee, ok := asEndpointError(err); ok && ee.Status >= 100 {
		return ee.Status
	}
	return http.StatusInternalServerError
}

// Renderer writes a response.
//
// Renderers MUST call w.WriteHeader and may set Content-Type before doing so.
// A returned error means the response could not be written.
type Renderer interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// RendererFunc adapts a function to a Renderer.
type RendererFunc func(w http.ResponseWriter, r *http.Request) error

func (f RendererFunc) Render(w http.ResponseWriter, r *http.Request) error {
	return f(w, r)
}

// Processor is middleware that runs before the EndpointFunc.
//
// Processors MUST call next unless they short-circuit with an error, and MUST
// NOT write the status or body. Headers may be set.
type Processor interface {
	Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error
}

// ProcessorFunc adapts a function to a Processor.
type ProcessorFunc func(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error

func (f ProcessorFunc) Process(w http.ResponseWriter, r *http.Request, next func(w http.ResponseWriter, r *http.Request) error) error {
	return f(w, r, next)
}

// EndpointFunc holds the business logic for one route. It receives the
// decoded params and returns the Renderer for the response.
type EndpointFunc[P any] func(w http.ResponseWriter, r *http.Request, params P) (Renderer, error)

// EndpointHandler is the http.Handler wrapper for an EndpointFunc.
type EndpointHandler[P any] struct {
	Endpoint   EndpointFunc[P]
	Processors []Processor
	// Logger, when set, receives errors that produce a 5xx response.
	Logger *zerolog.Logger
}

// Handler constructs an EndpointHandler. It exists to infer P.
func Handler[P any](fn EndpointFunc[P], processors ...Processor) *EndpointHandler[P] {
	return &EndpointHandler[P]{
		Endpoint:   fn,
		Processors: processors,
	}
}

// HandleFunc adapts an EndpointFunc into an http.HandlerFunc.
func HandleFunc[P any](fn EndpointFunc[P], processors ...Processor) http.HandlerFunc {
	return Handler(fn, processors...).ServeHTTP
}

// hookStack holds the functions registered with Defer for one request.
type hookStack struct {
	fns []func(http.ResponseWriter)
}

type hooksKey struct{}

func hooksFrom(ctx context.Context) *hookStack {
	hs, _ := ctx.Value(hooksKey{}).(*hookStack)
	return hs
}

// Defer registers fn to run just before the response headers are written.
// fn must not call WriteHeader. Outside an EndpointHandler this is a no-op.
func Defer(ctx context.Context, fn func(http.ResponseWriter)) {
	if hs := hooksFrom(ctx); hs != nil {
		hs.fns = append(hs.fns, fn)
	}
}

// Commit runs the functions registered with Defer, last first, and clears
// them. Outside an EndpointHandler this is a no-op.
func Commit(ctx context.Context, w http.ResponseWriter) {
	hs := hooksFrom(ctx)
	if hs == nil {
		return
	}
	fns := hs.fns
	hs.fns = nil
	for i := len(fns) - 1; i >= 0; i-- {
		fns[i](w)
	}
}

// ServeHTTP implements http.Handler.
func (h *EndpointHandler[P]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Endpoint == nil {
		http.Error(w, "endpoint: nil EndpointFunc", http.StatusInternalServerError)
		return
	}
	if hooksFrom(r.Context()) == nil {
		r = r.WithContext(context.WithValue(r.Context(), hooksKey{}, &hookStack{}))
	}

	if err := h.run(0, w, r); err != nil {
		h.writeError(w, r, err)
	}
}

// run calls processor i, whose next continues at i+1; past the last
// processor it decodes params, calls the EndpointFunc and renders.
func (h *EndpointHandler[P]) run(i int, w http.ResponseWriter, r *http.Request) error {
	if i < len(h.Processors) {
		p := h.Processors[i]
		if p == nil {
			return errors.New("endpoint: nil processor")
		}
		return p.Process(w, r, func(w http.ResponseWriter, r *http.Request) error {
			return h.run(i+1, w, r)
		})
	}

	var params P
	if err := Unmarshal(r, &params); err != nil {
		return err
	}
	renderer, err := h.Endpoint(w, r, params)
	if err != nil {
		return err
	}
	if renderer == nil {
		return errors.New("endpoint: nil renderer")
	}
	if c, ok := renderer.(io.Closer); ok {
		defer c.Close()
	}
	Commit(r.Context(), w)
	return renderer.Render(w, r)
}

func (h *EndpointHandler[P]) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	message := err.Error()
	if ee, ok := asEndpointError(err); ok {
		message = ee.Message
		if message == "" {
			message = http.StatusText(status)
		}
	}
	if status >= http.StatusInternalServerError && h.Logger != nil {
		h.Logger.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("endpoint: request failed")
	}
	Commit(r.Context(), w)
	http.Error(w, message, status)
}
