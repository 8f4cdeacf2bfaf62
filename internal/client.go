package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// maxResponseBytes bounds how much of a response body is buffered. API responses are small JSON
// documents; anything larger is truncated.
const maxResponseBytes = 8 << 20

var ErrEmptyBaseURL = errors.New("base URL is required")

// Client sends authenticated requests to the API and decodes JSON responses.
type Client struct {
	// baseURL is the scheme and host of the API, e.g. https://api.nightfall.ai
	baseURL *url.URL

	// apiKey is sent as a bearer token on every request
	apiKey string

	// userAgent identifies the SDK to the service
	userAgent string

	// doer performs the HTTP round trip
	doer Doer
}

func NewClient(baseURL, apiKey, userAgent string, doer Doer) (*Client, error) {
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base URL %q must include a scheme and host", baseURL)
	}

	if doer == nil {
		doer = http.DefaultClient
	}

	return &Client{
		baseURL:   u,
		apiKey:    apiKey,
		userAgent: userAgent,
		doer:      doer,
	}, nil
}

// URL returns the absolute URL for the given API path.
func (c *Client) URL(path string) string {
	return c.baseURL.JoinPath(path).String()
}

// Do sends the request and, on a 2xx response with a non-empty body, decodes it into out. A nil out
// discards the body. Non-2xx responses are returned as *StatusError.
func (c *Client) Do(ctx context.Context, r *Request, out any) error {
	var (
		body        io.Reader
		contentType ContentType
	)
	switch {
	case r.JSON != nil:
		b, err := json.Marshal(r.JSON)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
		contentType = ContentTypeJSON
	case r.Body != nil:
		body = bytes.NewReader(r.Body)
		contentType = r.ContentType
		if contentType == "" {
			contentType = ContentTypeOctetStream
		}
	default:
		// The service expects JSON on body-less POSTs as well.
		contentType = ContentTypeJSON
	}

	target := c.URL(r.Path)
	req, err := http.NewRequestWithContext(ctx, r.Method, target, body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", string(contentType))
	req.Header.Set("Accept", string(ContentTypeJSON))

	resp, err := c.doer.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", r.Method, target, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("failed to read response from %s: %w", target, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{
			StatusCode: resp.StatusCode,
			Method:     r.Method,
			URL:        target,
			Body:       respBody,
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", target, err)
	}
	return nil
}
