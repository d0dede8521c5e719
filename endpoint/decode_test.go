package endpoint

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type textUpper string

func (t *textUpper) UnmarshalText(b []byte) error {
	*t = textUpper(strings.ToUpper(string(b)))
	return nil
}

type decodeParams struct {
	Session string    `path:"session"`
	Trace   string    `header:"X-Trace-Id"`
	N       int       `query:"n"`
	Ok      bool      `query:"ok"`
	P       *uint     `query:"p"`
	Mode    textUpper `query:"mode"`
	Auto    string    `query:""`
	Skipped string    `query:"-"`
	Body    []byte    `body:""`
}

func decodeVia(t *testing.T, pattern string, req *http.Request, dst any) error {
	t.Helper()
	var err error
	mux := http.NewServeMux()
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		err = Unmarshal(r, dst)
	})
	mux.ServeHTTP(httptest.NewRecorder(), req)
	return err
}

func TestUnmarshal_AllSources(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rpc/alpha?n=7&ok=true&p=9&mode=fast&auto=z&skipped=x", strings.NewReader(`{"a":1}`))
	req.Header.Set("X-Trace-Id", "t-1")

	var p decodeParams
	require.NoError(t, decodeVia(t, "/rpc/{session}", req, &p))

	assert.Equal(t, "alpha", p.Session)
	assert.Equal(t, "t-1", p.Trace)
	assert.Equal(t, 7, p.N)
	assert.True(t, p.Ok)
	require.NotNil(t, p.P)
	assert.Equal(t, uint(9), *p.P)
	assert.Equal(t, textUpper("FAST"), p.Mode)
	assert.Equal(t, "z", p.Auto)
	assert.Empty(t, p.Skipped)
	assert.Equal(t, `{"a":1}`, string(p.Body))
}

func TestUnmarshal_PathTakesPrecedenceOverHeader(t *testing.T) {
	var p struct {
		Session string `path:"session" header:"X-Session"`
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc/from-path", nil)
	req.Header.Set("X-Session", "from-header")
	require.NoError(t, decodeVia(t, "/rpc/{session}", req, &p))
	assert.Equal(t, "from-path", p.Session)
}

func TestUnmarshal_MissingValuesLeaveFieldUnchanged(t *testing.T) {
	p := struct {
		Q    string `query:"q"`
		Body []byte `body:""`
	}{Q: "keep"}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, Unmarshal(req, &p))
	assert.Equal(t, "keep", p.Q)
	assert.Nil(t, p.Body)
}

func TestUnmarshal_InvalidValueIs400(t *testing.T) {
	var p struct {
		N int `query:"n"`
	}
	req := httptest.NewRequest(http.MethodGet, "/?n=abc", nil)
	err := Unmarshal(req, &p)

	var ee *EndpointError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, http.StatusBadRequest, ee.Status)
}

func TestUnmarshal_MaxLength(t *testing.T) {
	t.Run("query over limit is 400", func(t *testing.T) {
		var p struct {
			Q string `query:"q" maxLength:"3"`
		}
		err := Unmarshal(httptest.NewRequest(http.MethodGet, "/?q=abcd", nil), &p)
		var ee *EndpointError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, http.StatusBadRequest, ee.Status)
	})

	t.Run("body over limit is 413", func(t *testing.T) {
		var p struct {
			Body []byte `body:"" maxLength:"4"`
		}
		err := Unmarshal(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("12345")), &p)
		var ee *EndpointError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, http.StatusRequestEntityTooLarge, ee.Status)
	})

	t.Run("body at limit is accepted", func(t *testing.T) {
		var p struct {
			Body []byte `body:"" maxLength:"4"`
		}
		require.NoError(t, Unmarshal(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("1234")), &p))
		assert.Equal(t, "1234", string(p.Body))
	})

	t.Run("zero disables the limit", func(t *testing.T) {
		old := defaultFieldLimit
		defaultFieldLimit = 2
		t.Cleanup(func() { defaultFieldLimit = old })

		var p struct {
			Q string `query:"q" maxLength:"0"`
			R string `query:"r"`
		}
		require.NoError(t, Unmarshal(httptest.NewRequest(http.MethodGet, "/?q=abcdef&r=ab", nil), &p))
		assert.Equal(t, "abcdef", p.Q)
	})

	t.Run("invalid tag is 500", func(t *testing.T) {
		var p struct {
			Q string `query:"q" maxLength:"lots"`
		}
		err := Unmarshal(httptest.NewRequest(http.MethodGet, "/?q=a", nil), &p)
		var ee *EndpointError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, http.StatusInternalServerError, ee.Status)
	})
}

func TestUnmarshal_BodyMaxBytesReaderIs413(t *testing.T) {
	var p struct {
		Body []byte `body:"" maxLength:""`
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	req.Body = http.MaxBytesReader(rec, req.Body, 4)

	err := Unmarshal(req, &p)
	var ee *EndpointError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, http.StatusRequestEntityTooLarge, ee.Status)
}

func TestUnmarshal_RejectsNonStructTargets(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	var s string
	assert.Error(t, Unmarshal(req, &s))
	assert.Error(t, Unmarshal(req, struct{}{}))
	assert.Error(t, Unmarshal(req, (*struct{})(nil)))
	assert.NoError(t, Unmarshal(req, &struct{ unexported string }{}))
}
