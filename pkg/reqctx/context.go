// Package reqctx carries per-request state through the rendering and
// server-function paths.
//
// A RequestContext is created once per in-flight request from an immutable
// snapshot of the inbound request head. Handler and tree code reached through
// the same request can accumulate outbound response headers on it without
// threading the value through every call signature: the context travels in a
// context.Context and is recovered with FromContext.
package reqctx

import (
	"context"
	"net/http"
	"net/url"
	"sync"
)

// Parts is the immutable head of an inbound request: method, URI, and a
// cloned copy of the inbound headers. The body is deliberately absent.
type Parts struct {
	Method string
	URL    *url.URL
	Header http.Header
}

// PartsFromRequest snapshots the head of r. The returned Parts do not alias
// the request's header map, so later mutation of r leaves the snapshot alone.
func PartsFromRequest(r *http.Request) Parts {
	u := *r.URL
	return Parts{
		Method: r.Method,
		URL:    &u,
		Header: r.Header.Clone(),
	}
}

// RequestContext is the per-request value available inside a request's scope.
//
// The inbound snapshot is read-only. The outbound header accumulator is
// mutable and single-consumer: TakeResponseHeaders hands the accumulated
// headers to the dispatching code exactly once.
type RequestContext struct {
	parts Parts

	mu         sync.Mutex
	status     int
	respHeader http.Header
}

// New creates a RequestContext for one request from its head snapshot.
func New(parts Parts) *RequestContext {
	return &RequestContext{parts: parts, status: http.StatusOK}
}

// Parts returns the inbound request head snapshot.
func (c *RequestContext) Parts() Parts { return c.parts }

// Method returns the inbound request method.
func (c *RequestContext) Method() string { return c.parts.Method }

// URL returns the inbound request URL.
func (c *RequestContext) URL() *url.URL { return c.parts.URL }

// Header returns the first inbound header value for key.
func (c *RequestContext) Header(key string) string {
	return c.parts.Header.Get(key)
}

// Cookie returns the named inbound cookie, if present.
func (c *RequestContext) Cookie(name string) (*http.Cookie, error) {
	r := http.Request{Header: c.parts.Header}
	return r.Cookie(name)
}

// Status returns the response status recorded so far.
func (c *RequestContext) Status() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus records the response status for the render path.
func (c *RequestContext) SetStatus(code int) {
	c.mu.Lock()
	c.status = code
	c.mu.Unlock()
}

// SetResponseHeader sets an outbound header, replacing prior values for key.
func (c *RequestContext) SetResponseHeader(key, value string) {
	c.mu.Lock()
	if c.respHeader == nil {
		c.respHeader = make(http.Header)
	}
	c.respHeader.Set(key, value)
	c.mu.Unlock()
}

// AddResponseHeader appends an outbound header value for key.
func (c *RequestContext) AddResponseHeader(key, value string) {
	c.mu.Lock()
	if c.respHeader == nil {
		c.respHeader = make(http.Header)
	}
	c.respHeader.Add(key, value)
	c.mu.Unlock()
}

// SetCookie accumulates a Set-Cookie header on the outbound response.
func (c *RequestContext) SetCookie(cookie *http.Cookie) {
	if v := cookie.String(); v != "" {
		c.AddResponseHeader("Set-Cookie", v)
	}
}

// TakeResponseHeaders returns the accumulated outbound headers and clears
// them. A second call observes nil.
func (c *RequestContext) TakeResponseHeaders() http.Header {
	c.mu.Lock()
	h := c.respHeader
	c.respHeader = nil
	c.mu.Unlock()
	return h
}

type contextKey struct{}

// NewContext returns a context carrying rc.
func NewContext(parent context.Context, rc *RequestContext) context.Context {
	return context.WithValue(parent, contextKey{}, rc)
}

// FromContext returns the RequestContext carried by ctx, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextKey{}).(*RequestContext)
	return rc, ok
}

// MustFromContext returns the RequestContext carried by ctx.
//
// A request context is always available inside its own scope; calling this
// outside one is a programming error and panics.
func MustFromContext(ctx context.Context) *RequestContext {
	rc, ok := FromContext(ctx)
	if !ok {
		panic("reqctx: no request context in scope")
	}
	return rc
}
