package nightfall

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultWebhookThreshold is how old a webhook timestamp may be before it is rejected.
	DefaultWebhookThreshold = 300 * time.Second

	// DefaultWebhookMaxBodySize bounds the body VerifyRequest will read.
	DefaultWebhookMaxBodySize = 1 << 20

	SignatureHeader = "X-Nightfall-Signature"
	TimestampHeader = "X-Nightfall-Timestamp"
)

// ComputeWebhookSignature returns the hex-encoded HMAC-SHA256 of "{timestamp}:{body}" keyed with
// the signing secret, the way the service signs webhook deliveries.
func ComputeWebhookSignature(secret string, timestamp int64, body []byte) string {
	return hex.EncodeToString(computeSignature([]byte(secret), timestamp, body))
}

func computeSignature(secret []byte, timestamp int64, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	mac.Write([]byte{':'})
	mac.Write(body)
	return mac.Sum(nil)
}

// WebhookVerifier checks that a webhook delivery came from the service and is fresh. It holds only
// the signing secret and is safe for concurrent use.
type WebhookVerifier struct {
	secret      []byte
	maxBodySize int64
	now         func() time.Time
}

// NewWebhookVerifier creates a verifier for the given signing secret. An empty secret is a
// configuration error.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	if secret == "" {
		return nil, ErrSigningSecretRequired
	}
	return &WebhookVerifier{
		secret:      []byte(secret),
		maxBodySize: DefaultWebhookMaxBodySize,
		now:         time.Now,
	}, nil
}

// Validate reports whether body was signed with the secret at timestamp, and timestamp is no older
// than DefaultWebhookThreshold. body must be the raw request body exactly as received: decoding and
// re-encoding it can change field order or whitespace and break the signature.
func (v *WebhookVerifier) Validate(body []byte, signature string, timestamp int64) bool {
	return v.ValidateWithin(body, signature, timestamp, DefaultWebhookThreshold)
}

// ValidateWithin is Validate with an explicit acceptance window. The window is [now-threshold, now]
// in whole seconds; a zero threshold accepts only the current second.
func (v *WebhookVerifier) ValidateWithin(body []byte, signature string, timestamp int64, threshold time.Duration) bool {
	now := v.now().Unix()
	if timestamp < now-int64(threshold/time.Second) || timestamp > now {
		return false
	}

	// Compare the hex text, not decoded bytes: "AB" and "ab" are different signatures.
	want := hex.EncodeToString(computeSignature(v.secret, timestamp, body))
	return hmac.Equal([]byte(want), []byte(signature))
}

// VerifyRequest reads the signature and timestamp headers and the raw body of an inbound webhook
// and validates them. ok is false for deliveries that fail verification, including missing or
// malformed headers. err is only set when the body cannot be read or exceeds the size limit. The
// raw body is returned either way so it can be logged or decoded.
func (v *WebhookVerifier) VerifyRequest(r *http.Request) (body []byte, ok bool, err error) {
	body, err = io.ReadAll(io.LimitReader(r.Body, v.maxBodySize+1))
	if err != nil {
		return nil, false, fmt.Errorf("failed to read webhook body: %w", err)
	}
	if int64(len(body)) > v.maxBodySize {
		return nil, false, ErrWebhookBodyTooLarge
	}

	signature := strings.TrimSpace(r.Header.Get(SignatureHeader))
	timestamp, perr := strconv.ParseInt(strings.TrimSpace(r.Header.Get(TimestampHeader)), 10, 64)
	if signature == "" || perr != nil {
		return body, false, nil
	}

	return body, v.Validate(body, signature, timestamp), nil
}

// WebhookFunc handles a verified webhook notification. Returning an error makes the handler answer
// 500 so the service redelivers.
type WebhookFunc func(ctx context.Context, body *WebhookBody) error

// WebhookHandler is an http.Handler that verifies deliveries before passing them on. It also answers
// the challenge request the service sends when a webhook URL is registered.
type WebhookHandler struct {
	verifier *WebhookVerifier
	handle   WebhookFunc
	logger   *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. A nil logger discards logs.
func NewWebhookHandler(verifier *WebhookVerifier, handle WebhookFunc, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &WebhookHandler{verifier: verifier, handle: handle, logger: logger}
}

type webhookEnvelope struct {
	Challenge string `json:"challenge"`
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	body, ok, err := h.verifier.VerifyRequest(r)
	if err != nil {
		if errors.Is(err, ErrWebhookBodyTooLarge) {
			h.logger.Warn("webhook_body_too_large", "remote_addr", r.RemoteAddr)
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		h.logger.Error("webhook_read_failed", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !ok {
		h.logger.Warn("webhook_verification_failed", "remote_addr", r.RemoteAddr)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		h.logger.Warn("webhook_decode_failed", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if envelope.Challenge != "" {
		h.logger.Info("webhook_challenge_answered")
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, envelope.Challenge)
		return
	}

	var notification WebhookBody
	if err := json.Unmarshal(body, &notification); err != nil {
		h.logger.Warn("webhook_decode_failed", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := h.handle(r.Context(), &notification); err != nil {
		h.logger.Error("webhook_handler_failed", "upload_id", notification.UploadID, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.logger.Info("webhook_received", "upload_id", notification.UploadID, "findings_present", notification.FindingsPresent)
	w.WriteHeader(http.StatusOK)
}
