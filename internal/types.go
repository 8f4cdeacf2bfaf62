package internal

import (
	"fmt"
	"net/http"
)

// Doer executes a single HTTP request. *http.Client satisfies it, and so does any wrapper a caller
// wants to inject for retries, tracing or rate limiting.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ContentType is the media type of a request body.
type ContentType string

const (
	ContentTypeJSON        ContentType = "application/json"
	ContentTypeOctetStream ContentType = "application/octet-stream"
)

// Request describes one call to the API. Exactly one of JSON or Body should be set; when both are
// empty the request is sent without a body.
type Request struct {
	// Method is the HTTP method (POST, PATCH, ...)
	Method string

	// Path is joined to the client's base URL. Dynamic segments must already be escaped.
	Path string

	// JSON is marshalled and sent with ContentTypeJSON.
	JSON any

	// Body is sent as-is, byte for byte. It is never decoded or re-encoded.
	Body []byte

	// ContentType overrides the media type of Body. Defaults to ContentTypeOctetStream.
	ContentType ContentType

	// Header holds extra headers for this request only.
	Header http.Header
}

// StatusError is returned for any response outside the 2xx range. Body holds the raw response
// bytes so callers can decide whether the service sent a structured error.
type StatusError struct {
	// StatusCode is the HTTP status code
	StatusCode int

	// Method and URL identify the failed request
	Method string
	URL    string

	// Body is the raw response body
	Body []byte
}

// Error returns a string representation of the error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}
