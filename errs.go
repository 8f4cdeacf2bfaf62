package nightfall

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrAPIKeyRequired        = errors.New("API key is required")
	ErrSigningSecretRequired = errors.New("webhook signing secret is required")

	// Upload errors
	ErrInvalidState            = errors.New("upload session step called out of order")
	ErrInvalidResponse         = errors.New("invalid response from Nightfall API")
	ErrNotRegularFile          = errors.New("not a regular file")
	ErrPolicyRequired          = errors.New("scan policy is required")
	ErrRequestMetadataTooLarge = fmt.Errorf("request metadata exceeds %d bytes", MaxRequestMetadataBytes)

	// Webhook errors
	ErrWebhookBodyTooLarge = errors.New("webhook body too large")
)

// lookForAPIError converts a non-2xx response into an *APIError when its body has the shape of a
// Nightfall error. Anything else, including transport failures and error pages from proxies, is
// returned unchanged.
func lookForAPIError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	// The code field is the marker: an HTML error page or an empty body won't have one.
	var probe struct {
		Code *int `json:"code"`
	}
	if jerr := json.Unmarshal(statusErr.Body, &probe); jerr != nil || probe.Code == nil {
		return err
	}

	var detail ErrorDetail
	if jerr := json.Unmarshal(statusErr.Body, &detail); jerr != nil {
		return err
	}

	return &APIError{
		ErrorDetail: detail,
		StatusCode:  statusErr.StatusCode,
		Err:         statusErr,
	}
}

// APIError is a structured error returned by the Nightfall API, for example when a policy is
// invalid or the API key has been revoked.
//
// The facade methods (ScanText, ScanFile) return it as data on the Response rather than as an error:
//
//	resp, err := client.ScanFile(ctx, path, policy, "")
//	if err != nil {
//		// network failure, unreadable file, ...
//	}
//	if resp.IsError() {
//		log.Printf("rejected: %d %s", resp.Err().Code, resp.Err().Description)
//	}
//
// The UploadSession methods return it as an error; use errors.As to extract it.
type APIError struct {
	ErrorDetail

	// StatusCode is the HTTP status of the response
	StatusCode int

	// Err is the underlying *StatusError
	Err error
}

// Error returns a string representation of the error.
func (e *APIError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("nightfall API error %d: %s: %s", e.Code, e.Message, e.Description)
	}
	return fmt.Sprintf("nightfall API error %d: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// FileError is returned when the local file being scanned cannot be inspected or read. No remote
// state needs cleaning up when it occurs before Initialize succeeds; after that, the remote upload
// is simply left incomplete.
type FileError struct {
	// Op is the operation that failed: stat, open or read
	Op string
	// Path is the local file path
	Path string
	// Err is the underlying error
	Err error
}

// Error returns a string representation of the error.
func (e *FileError) Error() string {
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *FileError) Unwrap() error {
	return e.Err
}

// StateError is returned when an UploadSession step is called out of order or twice. No request
// is sent when it occurs.
type StateError struct {
	// Op is the step that was called
	Op string
	// State is the state the session was in
	State UploadState
	// Want is the state the step requires
	Want UploadState
}

// Error returns a string representation of the error.
func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s: upload session is %s, want %s", e.Op, e.State, e.Want)
}

// Unwrap returns ErrInvalidState so callers can use errors.Is.
func (e *StateError) Unwrap() error {
	return ErrInvalidState
}

// Response is the result of a facade call. Exactly one of Data or Err() is set: API-level failures
// are reported here so callers can branch on them without inspecting errors, while network and
// local failures are returned as a Go error alongside a nil Response.
type Response[T any] struct {
	// Data is the decoded success response
	Data *T

	err *APIError
}

// IsError reports whether the API rejected the request.
func (r *Response[T]) IsError() bool {
	return r.err != nil
}

// Err returns the API error, or nil on success.
func (r *Response[T]) Err() *APIError {
	return r.err
}

// respond sorts an outcome into data, an API error carried on the Response, or a Go error.
func respond[T any](data *T, err error) (*Response[T], error) {
	if err == nil {
		return &Response[T]{Data: data}, nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return &Response[T]{err: apiErr}, nil
	}
	return nil, err
}
