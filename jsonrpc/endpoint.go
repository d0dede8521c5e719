package jsonrpc

import (
	"errors"
	"mime"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mnehpets/onerpc/endpoint"
)

// SessionHeader names the header that selects a session when the route has
// no {session} path value.
const SessionHeader = "X-JSONRPC-Session"

// Endpoint serves a Processor over HTTP (JSON-RPC over HTTP POST).
type Endpoint struct {
	processor *Processor
	logger    zerolog.Logger
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithEndpointLogger sets the logger used for transport-level failures.
func WithEndpointLogger(l zerolog.Logger) EndpointOption {
	return func(e *Endpoint) {
		e.logger = l
	}
}

// NewEndpoint creates an Endpoint for p.
func NewEndpoint(p *Processor, opts ...EndpointOption) *Endpoint {
	if p == nil {
		panic("jsonrpc: nil processor")
	}
	e := &Endpoint{processor: p, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// rpcParams carries the raw body; decoding is left to the Processor so that
// malformed JSON becomes a JSON-RPC parse error rather than an HTTP 400.
// The body size is bounded by a processor (see middleware.BodyLimitProcessor).
type rpcParams struct {
	Body          []byte `body:"" maxLength:""`
	PathSession   string `path:"session"`
	HeaderSession string `header:"X-JSONRPC-Session"`
}

// Serve is an endpoint.EndpointFunc. Pass it to endpoint.Handler.
func (e *Endpoint) Serve(w http.ResponseWriter, r *http.Request, params rpcParams) (endpoint.Renderer, error) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return nil, endpoint.Error(http.StatusMethodNotAllowed, "JSON-RPC requires POST method", nil)
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		mt, _, err := mime.ParseMediaType(ct)
		if err != nil || mt != "application/json" {
			return nil, endpoint.Error(http.StatusUnsupportedMediaType, "Content-Type must be application/json", err)
		}
	}

	session := params.PathSession
	if session == "" {
		session = params.HeaderSession
	}
	out, err := e.processor.Process(r.Context(), session, params.Body)
	if errors.Is(err, ErrUnknownSession) {
		e.logger.Info().Str("session", session).Str("remote", r.RemoteAddr).Msg("jsonrpc: unknown session")
		return nil, endpoint.Error(http.StatusNotFound, "unknown session", err)
	}
	if err != nil {
		return nil, err
	}
	return &endpoint.RawJSONRenderer{Body: out}, nil
}

// Handler wraps Serve in an endpoint.EndpointHandler with processors.
func (e *Endpoint) Handler(processors ...endpoint.Processor) http.Handler {
	h := endpoint.Handler(e.Serve, processors...)
	h.Logger = &e.logger
	return h
}
