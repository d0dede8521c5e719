package jsonrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mnehpets/onerpc/endpoint"
)

func newTestServer(t *testing.T, processors ...endpoint.Processor) http.Handler {
	t.Helper()
	reg := NewRegistry()
	reg.Register(DefaultSessionID, newTestMethods())
	other := NewMethodSet()
	other.RegisterFunc("whoami", func() string { return "other" })
	reg.Register("other", other)

	e := NewEndpoint(NewProcessor(reg))
	mux := http.NewServeMux()
	mux.Handle("/rpc", e.Handler(processors...))
	mux.Handle("/rpc/{session}", e.Handler(processors...))
	return mux
}

func post(h http.Handler, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestEndpoint_Success(t *testing.T) {
	h := newTestServer(t)
	rec := post(h, "/rpc", `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, `{"jsonrpc":"2.0","result":3,"id":1}`, rec.Body.String())
}

func TestEndpoint_NotificationsAreNoContent(t *testing.T) {
	h := newTestServer(t)

	rec := post(h, "/rpc", `{"jsonrpc":"2.0","method":"notify"}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, rec.Body.Len())

	rec = post(h, "/rpc", `[{"jsonrpc":"2.0","method":"notify"},{"jsonrpc":"2.0","method":"notify"}]`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestEndpoint_MalformedJSONIsStillOK(t *testing.T) {
	h := newTestServer(t)
	rec := post(h, "/rpc", `{"jsonrpc":`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":-32700`)
}

func TestEndpoint_SessionSelection(t *testing.T) {
	h := newTestServer(t)
	body := `{"jsonrpc":"2.0","method":"whoami","id":1}`

	rec := post(h, "/rpc/other", body)
	assert.Equal(t, `{"jsonrpc":"2.0","result":"other","id":1}`, rec.Body.String())

	rec = post(h, "/rpc", body, SessionHeader, "other")
	assert.Equal(t, `{"jsonrpc":"2.0","result":"other","id":1}`, rec.Body.String())

	// The path wins over the header.
	rec = post(h, "/rpc/default", `{"jsonrpc":"2.0","method":"add","params":[1,1],"id":1}`, SessionHeader, "other")
	assert.Equal(t, `{"jsonrpc":"2.0","result":2,"id":1}`, rec.Body.String())

	rec = post(h, "/rpc/missing", body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEndpoint_TransportErrors(t *testing.T) {
	h := newTestServer(t)

	t.Run("method not allowed", func(t *testing.T) {
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			req := httptest.NewRequest(method, "/rpc", nil)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
			assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
		}
	})

	t.Run("unsupported media type", func(t *testing.T) {
		rec := post(h, "/rpc", `{}`, "Content-Type", "text/plain")
		assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	})

	t.Run("content type with charset", func(t *testing.T) {
		rec := post(h, "/rpc", `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`, "Content-Type", "application/json; charset=utf-8")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("no content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestEndpoint_ProcessorChain(t *testing.T) {
	type key struct{}
	executed := false
	withValue := endpoint.ProcessorFunc(func(w http.ResponseWriter, r *http.Request, next func(http.ResponseWriter, *http.Request) error) error {
		executed = true
		return next(w, r.WithContext(context.WithValue(r.Context(), key{}, "from-processor")))
	})

	reg := NewRegistry()
	methods := NewMethodSet()
	methods.RegisterFunc("value", func(ctx context.Context) string {
		v, _ := ctx.Value(key{}).(string)
		return v
	})
	reg.Register(DefaultSessionID, methods)
	h := NewEndpoint(NewProcessor(reg)).Handler(withValue)

	rec := post(h, "/", `{"jsonrpc":"2.0","method":"value","id":1}`)
	assert.True(t, executed)
	assert.Equal(t, `{"jsonrpc":"2.0","result":"from-processor","id":1}`, rec.Body.String())
}

func TestEndpoint_ProcessorErrorIsHTTPError(t *testing.T) {
	deny := endpoint.ProcessorFunc(func(http.ResponseWriter, *http.Request, func(http.ResponseWriter, *http.Request) error) error {
		return endpoint.Error(http.StatusForbidden, "access denied", nil)
	})
	h := newTestServer(t, deny)

	rec := post(h, "/rpc", `{"jsonrpc":"2.0","method":"add","params":[1,2],"id":1}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access denied\n", rec.Body.String())
}

func TestEndpoint_ServeWithEndpointHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register(DefaultSessionID, newTestMethods())
	e := NewEndpoint(NewProcessor(reg))

	h := endpoint.Handler(e.Serve)
	rec := post(h, "/", `[{"jsonrpc":"2.0","method":"echo","params":["x"],"id":"a"}]`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, `{"jsonrpc":"2.0","result":"x","id":"a"}`, rec.Body.String())
}

func TestNewEndpoint_NilProcessorPanics(t *testing.T) {
	assert.Panics(t, func() { NewEndpoint(nil) })
}
