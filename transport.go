package nightfall

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig configures retry behavior for rate-limited requests
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (0 means no retry)
	MaxRetries uint64
	// InitialInterval is the initial backoff interval
	InitialInterval time.Duration
	// MaxInterval is the maximum backoff interval between retries.
	MaxInterval time.Duration
	// Multiplier is the backoff multiplier (e.g., 2.0 for exponential backoff)
	Multiplier float64
	// RandomizationFactor adds jitter to prevent thundering herd
	RandomizationFactor float64
}

// DefaultRetryConfig returns our recommended retry configuration. Retries are off unless you pass
// this (or your own config) to WithRetryConfig.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:          5,
		InitialInterval:     500 * time.Millisecond,
		MaxInterval:         30 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.65,
	}
}

// isRetriableStatus checks if the status is retriable (rate limit)
func isRetriableStatus(code int) bool {
	// Only retry on 429 (rate limit) or 503 (which may suggest a resolvable issue)
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// createBackoff creates a configured exponential backoff
func createBackoff(config RetryConfig) backoff.BackOff {
	if config.MaxRetries == 0 {
		return &backoff.StopBackOff{}
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = config.InitialInterval
	expBackoff.MaxInterval = config.MaxInterval
	expBackoff.Multiplier = config.Multiplier
	expBackoff.RandomizationFactor = config.RandomizationFactor
	expBackoff.MaxElapsedTime = 0 // We control retries with WithMaxRetries

	return backoff.WithMaxRetries(expBackoff, config.MaxRetries)
}

var errRetriableStatus = errors.New("retriable status")

// RetryTransport is an http.RoundTripper that replays a request with exponential backoff when the
// service answers 429 or 503. Transport errors are not retried. Requests with a body are only
// retried when Request.GetBody is set, which http.NewRequest does for in-memory bodies; others are
// sent once.
//
// The upload session itself never retries; plug this in as the transport when you want rate limits
// absorbed below it.
type RetryTransport struct {
	// Base performs the actual round trip. Defaults to http.DefaultTransport.
	Base http.RoundTripper
	// Config controls the backoff.
	Config RetryConfig
}

// NewRetryTransport wraps base with retries.
func NewRetryTransport(base http.RoundTripper, config RetryConfig) *RetryTransport {
	return &RetryTransport{Base: base, Config: config}
}

// RoundTrip implements http.RoundTripper.
func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if !replayable(req) {
		return base.RoundTrip(req)
	}

	var (
		resp    *http.Response
		attempt int
	)
	err := backoff.Retry(func() error {
		if resp != nil {
			// Discard the rate-limited response we are about to replace.
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			resp = nil
		}

		r, err := rewind(req, attempt)
		if err != nil {
			return backoff.Permanent(err)
		}
		attempt++

		res, err := base.RoundTrip(r)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp = res
		if isRetriableStatus(res.StatusCode) {
			// Return the error to trigger backoff
			return errRetriableStatus
		}
		return nil
	}, backoff.WithContext(createBackoff(t.Config), req.Context()))

	if err != nil && !errors.Is(err, errRetriableStatus) {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	// Retries exhausted: hand the last response to the caller as-is.
	return resp, nil
}

func replayable(req *http.Request) bool {
	return req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
}

// rewind returns the request to send for the given attempt, with a fresh body after the first.
func rewind(req *http.Request, attempt int) (*http.Request, error) {
	if attempt == 0 || req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	r := req.Clone(req.Context())
	r.Body = body
	return r, nil
}
