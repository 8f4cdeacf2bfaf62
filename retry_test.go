package nightfall

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func response(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(http.StatusText(code))),
		Header:     http.Header{},
	}
}

func testRetryConfig(maxRetries uint64) RetryConfig {
	return RetryConfig{
		MaxRetries:          maxRetries,
		InitialInterval:     10 * time.Millisecond,
		MaxInterval:         100 * time.Millisecond,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	}
}

func TestIsRetriableStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		expected bool
	}{
		{name: "rate limited", code: http.StatusTooManyRequests, expected: true},
		{name: "unavailable", code: http.StatusServiceUnavailable, expected: true},
		{name: "ok", code: http.StatusOK, expected: false},
		{name: "bad request", code: http.StatusBadRequest, expected: false},
		{name: "internal error", code: http.StatusInternalServerError, expected: false},
		{name: "bad gateway", code: http.StatusBadGateway, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := isRetriableStatus(tt.code)
			if got != tt.expected {
				t.Errorf("isRetriableStatus() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRetryTransport(t *testing.T) {
	// Test that the transport retries rate limits and replays the body each time
	retryCount := 0
	maxRetries := 3

	transport := NewRetryTransport(roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		retryCount++
		body, err := io.ReadAll(r.Body)
		if err != nil || string(body) != "chunk" {
			t.Errorf("attempt %d: body = %q, err = %v", retryCount, body, err)
		}
		if retryCount <= maxRetries {
			return response(http.StatusTooManyRequests), nil
		}
		return response(http.StatusNoContent), nil
	}), testRetryConfig(uint64(maxRetries)))

	req, _ := http.NewRequest(http.MethodPatch, "https://api.nightfall.ai/v3/upload/abc", strings.NewReader("chunk"))
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected success after retries, got error: %v", err)
	}
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected status 204, got %d", resp.StatusCode)
	}

	if retryCount != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, retryCount)
	}
}

func TestRetryTransportMaxRetriesExceeded(t *testing.T) {
	// Test that the transport stops after max retries and hands back the last response
	retryCount := 0
	maxRetries := 2

	transport := NewRetryTransport(roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		retryCount++
		return response(http.StatusTooManyRequests), nil
	}), testRetryConfig(uint64(maxRetries)))

	req, _ := http.NewRequest(http.MethodPost, "https://api.nightfall.ai/v3/scan", strings.NewReader("{}"))
	resp, err := transport.RoundTrip(req)
	if err != nil {
		t.Fatalf("expected the rate-limited response, got error: %v", err)
	}
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", resp.StatusCode)
	}

	if retryCount != maxRetries+1 {
		t.Errorf("expected %d attempts, got %d", maxRetries+1, retryCount)
	}
}

func TestRetryTransportNoRetry(t *testing.T) {
	tests := []struct {
		name   string
		config RetryConfig
		rt     func(*http.Request) (*http.Response, error)
		body   io.Reader
	}{
		{
			name:   "non-retriable status",
			config: testRetryConfig(5),
			rt: func(*http.Request) (*http.Response, error) {
				return response(http.StatusBadRequest), nil
			},
		},
		{
			name:   "transport error",
			config: testRetryConfig(5),
			rt: func(*http.Request) (*http.Response, error) {
				return nil, errors.New("connection refused")
			},
		},
		{
			name:   "retries disabled",
			config: testRetryConfig(0),
			rt: func(*http.Request) (*http.Response, error) {
				return response(http.StatusTooManyRequests), nil
			},
		},
		{
			name:   "body cannot be replayed",
			config: testRetryConfig(5),
			rt: func(*http.Request) (*http.Response, error) {
				return response(http.StatusTooManyRequests), nil
			},
			body: io.MultiReader(strings.NewReader("chunk")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retryCount := 0
			transport := NewRetryTransport(roundTripperFunc(func(r *http.Request) (*http.Response, error) {
				retryCount++
				return tt.rt(r)
			}), tt.config)

			req, _ := http.NewRequest(http.MethodPost, "https://api.nightfall.ai/v3/scan", tt.body)
			transport.RoundTrip(req)

			if retryCount != 1 {
				t.Errorf("expected 1 attempt, got %d", retryCount)
			}
		})
	}
}

func TestRetryTransportContextCancellation(t *testing.T) {
	// Test that retries respect context cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	retryCount := 0

	transport := NewRetryTransport(roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		retryCount++
		if retryCount == 2 {
			cancel()
		}
		return response(http.StatusTooManyRequests), nil
	}), RetryConfig{
		MaxRetries:          5,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         1 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.1,
	})

	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.nightfall.ai/v3/scan", nil)
	_, err := transport.RoundTrip(req)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	// Should have stopped early due to context cancellation
	if retryCount > 3 {
		t.Errorf("expected at most 3 attempts, got %d", retryCount)
	}
}
