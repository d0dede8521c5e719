package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/mnehpets/onerpc/endpoint"
)

// CORSConfig enables cross-origin calls to the RPC endpoint.
type CORSConfig struct {
	// AllowedOrigins lists exact origins, or "*" for any origin. "*" is
	// ignored when AllowCredentials is set.
	AllowedOrigins   []string
	AllowCredentials bool
	// MaxAge is how long, in seconds, preflight results may be cached.
	MaxAge int
}

// APIHeadersProcessor sets response headers suited to a JSON API and
// handles CORS, including preflight requests.
type APIHeadersProcessor struct {
	CORS *CORSConfig
	// AllowedHeaders are the request headers permitted on cross-origin calls.
	AllowedHeaders []string
}

// NewAPIHeadersProcessor creates an APIHeadersProcessor. cors may be nil.
func NewAPIHeadersProcessor(cors *CORSConfig) *APIHeadersProcessor {
	return &APIHeadersProcessor{
		CORS:           cors,
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-JSONRPC-Session"},
	}
}

func (p *APIHeadersProcessor) Process(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
	h := w.Header()
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Cache-Control", "no-store")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if p.CORS == nil {
		return next(w, r)
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return next(w, r)
	}
	h.Add("Vary", "Origin")
	allowed := p.allowOrigin(origin)
	if allowed != "" {
		h.Set("Access-Control-Allow-Origin", allowed)
		if p.CORS.AllowCredentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
	}

	if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
		if allowed != "" {
			h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", strings.Join(p.AllowedHeaders, ", "))
			if p.CORS.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", strconv.Itoa(p.CORS.MaxAge))
			}
		}
		return endpoint.Error(http.StatusNoContent, "", nil)
	}
	return next(w, r)
}

func (p *APIHeadersProcessor) allowOrigin(origin string) string {
	if slices.Contains(p.CORS.AllowedOrigins, origin) {
		return origin
	}
	if !p.CORS.AllowCredentials && slices.Contains(p.CORS.AllowedOrigins, "*") {
		return "*"
	}
	return ""
}

// BodyLimitProcessor caps request bodies at n bytes. Reading past the limit
// fails, which the endpoint decoder reports as 413.
func BodyLimitProcessor(n int64) endpoint.Processor {
	return endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		if r.ContentLength > n {
			return endpoint.Error(http.StatusRequestEntityTooLarge, "", nil)
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, n)
		}
		return next(w, r)
	})
}

var _ endpoint.Processor = (*APIHeadersProcessor)(nil)
