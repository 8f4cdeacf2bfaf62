package nightfall

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nightfallai/nightfall-go-sdk/internal"
)

const (
	// Version is the SDK version reported in the User-Agent header.
	Version = "1.0.0"

	// APIKeyEnvVar is read when no API key is passed to New.
	APIKeyEnvVar = "NIGHTFALL_API_KEY"
	// SigningSecretEnvVar is read when no webhook signing secret is passed to New.
	SigningSecretEnvVar = "NIGHTFALL_WEBHOOK_SIGNING_SECRET"

	defaultBaseURL   = "https://api.nightfall.ai"
	defaultTimeout   = 30 * time.Second
	defaultUserAgent = "nightfall-go-sdk/" + Version
)

// option is a function that configures the client
type option func(*cfg)

// WithAPIKey sets the API key for the client. If not set, the key is read from the
// NIGHTFALL_API_KEY environment variable.
func WithAPIKey(apiKey string) option {
	return func(c *cfg) {
		c.apiKey = apiKey
	}
}

// WithWebhookSigningSecret sets the secret used to validate webhooks. If not set, the secret is
// read from the NIGHTFALL_WEBHOOK_SIGNING_SECRET environment variable. It is only required if you
// call ValidateWebhook.
func WithWebhookSigningSecret(secret string) option {
	return func(c *cfg) {
		c.webhookSigningSecret = secret
	}
}

// WithBaseURL sets the base URL for the client. Unless you have been told to use a different
// endpoint, there's no need to set this.
func WithBaseURL(baseURL string) option {
	return func(c *cfg) {
		c.baseURL = baseURL
	}
}

// WithTimeout sets the timeout for each request made by the default HTTP client. If not set, the
// default timeout is 30 seconds. Ignored when WithHTTPClient is used.
func WithTimeout(timeout time.Duration) option {
	return func(c *cfg) {
		c.timeout = timeout
	}
}

// WithHTTPClient injects the transport used for every request. Use it to add your own retry,
// tracing or rate limiting.
func WithHTTPClient(doer HTTPDoer) option {
	return func(c *cfg) {
		c.httpClient = doer
	}
}

// WithRetryConfig enables retries on rate limits (429) and unavailability (503) in the default HTTP
// client. Ignored when WithHTTPClient is used; wrap your transport in a RetryTransport instead.
func WithRetryConfig(retryConfig RetryConfig) option {
	return func(c *cfg) {
		c.retryConfig = retryConfig
	}
}

// WithDisableRetry disables automatic retry on rate limits
func WithDisableRetry() option {
	return func(c *cfg) {
		c.retryConfig.MaxRetries = 0
	}
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(userAgent string) option {
	return func(c *cfg) {
		c.userAgent = userAgent
	}
}

// WithLogger sets the logger the client writes debug and error events to. Logs are discarded by
// default.
func WithLogger(logger *slog.Logger) option {
	return func(c *cfg) {
		c.logger = logger
	}
}

// cfg holds configuration for the Nightfall client
type cfg struct {
	// apiKey is your Nightfall API key
	apiKey string
	// webhookSigningSecret validates inbound webhooks
	webhookSigningSecret string
	// baseURL is the Nightfall API endpoint (default: "https://api.nightfall.ai")
	baseURL string
	// userAgent identifies the SDK
	userAgent string
	// timeout is the default timeout for requests
	timeout time.Duration
	// httpClient overrides the default transport
	httpClient HTTPDoer
	// retryConfig configures retry behavior for rate-limited requests
	retryConfig RetryConfig
	// logger receives client events
	logger *slog.Logger
}

// Client is the main Nightfall SDK client. It is safe for concurrent use.
type Client struct {
	config   *cfg
	api      *internal.Client
	owned    *http.Client
	verifier *WebhookVerifier
}

// New creates a new Nightfall client. A missing API key is reported here, not on the first request.
func New(options ...option) (*Client, error) {
	config := &cfg{
		baseURL:   defaultBaseURL,
		timeout:   defaultTimeout,
		userAgent: defaultUserAgent,
	}

	for _, option := range options {
		option(config)
	}

	if config.apiKey == "" {
		config.apiKey = os.Getenv(APIKeyEnvVar)
	}
	if config.apiKey == "" {
		return nil, ErrAPIKeyRequired
	}
	if config.webhookSigningSecret == "" {
		config.webhookSigningSecret = os.Getenv(SigningSecretEnvVar)
	}
	if config.logger == nil {
		config.logger = slog.New(slog.DiscardHandler)
	}

	client := &Client{config: config}

	doer := config.httpClient
	if doer == nil {
		var transport http.RoundTripper = http.DefaultTransport.(*http.Transport).Clone()
		if config.retryConfig.MaxRetries > 0 {
			transport = NewRetryTransport(transport, config.retryConfig)
		}
		client.owned = &http.Client{Timeout: config.timeout, Transport: transport}
		doer = client.owned
	}

	api, err := internal.NewClient(config.baseURL, config.apiKey, config.userAgent, doer)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for Nightfall API: %w", err)
	}
	client.api = api

	if config.webhookSigningSecret != "" {
		// Cannot fail: the secret is non-empty.
		client.verifier, _ = NewWebhookVerifier(config.webhookSigningSecret)
	}

	return client, nil
}

// Close releases idle connections held by the default HTTP client. You can do this with defer.
// An injected HTTP client is left alone.
func (c *Client) Close() error {
	if c.owned != nil {
		c.owned.CloseIdleConnections()
	}
	return nil
}

type scanTextRequest struct {
	Payload     []string        `json:"payload"`
	Policy      *ScanTextConfig `json:"policy,omitempty"`
	PolicyUUIDs []string        `json:"policyUUIDs,omitempty"`
}

// ScanText scans each string in payload with the given policy and returns one list of findings per
// string. Policies created in the Nightfall dashboard can be referenced with policyUUIDs instead of,
// or in addition to, an inline config.
//
// API-level failures, such as an invalid policy, are returned on the Response; see APIError.
func (c *Client) ScanText(ctx context.Context, payload []string, config *ScanTextConfig, policyUUIDs ...string) (*Response[ScanTextResponse], error) {
	var resp ScanTextResponse
	err := c.api.Do(ctx, &internal.Request{
		Method: http.MethodPost,
		Path:   "/v3/scan",
		JSON:   scanTextRequest{Payload: payload, Policy: config, PolicyUUIDs: policyUUIDs},
	}, &resp)
	if err != nil {
		c.config.logger.Error("scan_text_failed", "items", len(payload), "error", err)
		return respond[ScanTextResponse](nil, fmt.Errorf("failed to scan text: %w", lookForAPIError(err)))
	}
	return respond(&resp, nil)
}

// ScanFile uploads the file at filePath and starts an asynchronous scan with the given policy. It
// wraps the four steps of an UploadSession. The returned response only confirms the scan was
// accepted; the findings are delivered to policy.WebhookURL. requestMetadata is optional, at most
// MaxRequestMetadataBytes long, and is echoed back on the webhook.
//
// API-level failures are returned on the Response; local file and network failures are returned as
// errors.
func (c *Client) ScanFile(ctx context.Context, filePath string, policy *ScanPolicy, requestMetadata string) (*Response[ScanFileResponse], error) {
	// Validate arguments before uploading anything.
	if policy == nil {
		return nil, ErrPolicyRequired
	}
	if len(requestMetadata) > MaxRequestMetadataBytes {
		return nil, ErrRequestMetadataTooLarge
	}

	session := c.NewUploadSession(filePath)
	if _, err := session.Initialize(ctx); err != nil {
		return respond[ScanFileResponse](nil, err)
	}
	if err := session.UploadChunks(ctx); err != nil {
		return respond[ScanFileResponse](nil, err)
	}
	if _, err := session.Finish(ctx); err != nil {
		return respond[ScanFileResponse](nil, err)
	}
	return respond(session.Scan(ctx, policy, requestMetadata))
}

// WebhookVerifier returns the verifier built from the configured signing secret.
func (c *Client) WebhookVerifier() (*WebhookVerifier, error) {
	if c.verifier == nil {
		return nil, ErrSigningSecretRequired
	}
	return c.verifier, nil
}

// ValidateWebhook reports whether a webhook delivery is authentic and no older than
// DefaultWebhookThreshold. Pass the raw request body and the values of the X-Nightfall-Signature
// and X-Nightfall-Timestamp headers. A failed check returns false with a nil error; the error is
// only set when the client has no signing secret.
func (c *Client) ValidateWebhook(body []byte, signature string, timestamp int64) (bool, error) {
	return c.ValidateWebhookWithin(body, signature, timestamp, DefaultWebhookThreshold)
}

// ValidateWebhookWithin is ValidateWebhook with an explicit acceptance window.
func (c *Client) ValidateWebhookWithin(body []byte, signature string, timestamp int64, threshold time.Duration) (bool, error) {
	v, err := c.WebhookVerifier()
	if err != nil {
		return false, err
	}
	return v.ValidateWithin(body, signature, timestamp, threshold), nil
}
