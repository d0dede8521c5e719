package endpoint

import "net/http"

const contentTypeJSON = "application/json"

// setContentType sets Content-Type unless a processor already chose one.
func setContentType(w http.ResponseWriter, contentType string) {
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", contentType)
	}
}

// StringRenderer writes Body as a text response.
//
// Status defaults to 200 and ContentType to "text/plain; charset=utf-8".
type StringRenderer struct {
	Status      int
	Body        string
	ContentType string
}

func (sr *StringRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	ct := sr.ContentType
	if ct == "" {
		ct = "text/plain; charset=utf-8"
	}
	setContentType(w, ct)
	w.WriteHeader(statusOr(sr.Status, http.StatusOK))
	if sr.Body == "" {
		return nil
	}
	_, err := w.Write([]byte(sr.Body))
	return err
}

// RawJSONRenderer writes an already encoded JSON document. The bytes are
// sent unchanged; an empty Body yields 204 No Content.
type RawJSONRenderer struct {
	Status int
	Body   []byte
}

func (jr *RawJSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	if len(jr.Body) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return nil
	}
	setContentType(w, contentTypeJSON)
	w.WriteHeader(statusOr(jr.Status, http.StatusOK))
	_, err := w.Write(jr.Body)
	return err
}

// NoContentRenderer writes a response with no body. Status defaults to 204.
type NoContentRenderer struct {
	Status int
}

func (ncr *NoContentRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(statusOr(ncr.Status, http.StatusNoContent))
	return nil
}

func statusOr(status, def int) int {
	if status == 0 {
		return def
	}
	return status
}
