package weft

import (
	"encoding/json"
	"net/http"
)

// =============================================================================
// Server Function Handler Types
// =============================================================================

// ServerFunc handles one server-function invocation. It runs to completion
// on a single pinned worker; state it builds never migrates across threads.
//
// The RequestContext is passed explicitly and is also available through
// r.Context() for code deeper in the call tree. Headers accumulated on it
// (cookies in particular) are merged into the returned response after the
// handler returns.
type ServerFunc func(rc *RequestContext, r *http.Request) *Response

// Response is the buffered result of a server function.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// NewResponse creates an empty response with the given status.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// Text creates a plain-text response.
func Text(status int, body string) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp.Body = []byte(body)
	return resp
}

// JSON creates a JSON response from v. An encoding failure degrades to a
// plain 500.
func JSON(status int, v any) *Response {
	raw, err := json.Marshal(v)
	if err != nil {
		return Text(http.StatusInternalServerError, "failed to encode response")
	}
	resp := NewResponse(status)
	resp.Header.Set("Content-Type", "application/json")
	resp.Body = raw
	return resp
}

// Redirect creates a redirect response to url.
func Redirect(status int, url string) *Response {
	resp := NewResponse(status)
	resp.Header.Set("Location", url)
	return resp
}

// ensureHeader lazily allocates the header map.
func (r *Response) ensureHeader() http.Header {
	if r.Header == nil {
		r.Header = make(http.Header)
	}
	return r.Header
}

// write copies the response onto w.
func (r *Response) write(w http.ResponseWriter) {
	h := w.Header()
	for key, values := range r.Header {
		h[key] = append([]string(nil), values...)
	}
	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(r.Body) > 0 {
		w.Write(r.Body)
	}
}
