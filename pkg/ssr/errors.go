package ssr

import (
	"fmt"
	"net/http"
)

// HTTPError is an intentional non-200 outcome from a render: the tree decided
// the page maps to an HTTP failure (not found, forbidden, ...). The gateway
// passes it through verbatim.
type HTTPError struct {
	// Status is the HTTP status code to return.
	Status int

	// Body is the response body. Empty means "use the standard reason
	// phrase for Status".
	Body string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("ssr: http %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("ssr: http %d", e.Status)
}

// NotFound returns an HTTPError for a missing page.
func NotFound() *HTTPError {
	return &HTTPError{Status: http.StatusNotFound}
}

// IncrementalError reports that the renderer or its incremental cache could
// not produce content. The gateway logs it and surfaces the detail to the
// client as a 500.
type IncrementalError struct {
	Err error
}

func (e *IncrementalError) Error() string { return e.Err.Error() }

func (e *IncrementalError) Unwrap() error { return e.Err }
