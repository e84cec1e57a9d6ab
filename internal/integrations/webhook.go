package integrations

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/formpulse/formpulse/internal/core"
)

// SignatureHeader carries the HMAC-SHA256 of the request body when the
// integration has a shared secret configured.
const SignatureHeader = "X-Signature"

// WebhookHandler posts the payload as JSON to a customer-supplied URL.
type WebhookHandler struct {
	client *http.Client
	logger *slog.Logger
}

// NewWebhookHandler creates the generic webhook handler.
func NewWebhookHandler(client *http.Client, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{client: client, logger: logger}
}

// Deliver sends one POST. Status classes decide retryability: 2xx succeeds,
// 4xx is fatal (the endpoint rejected the payload shape or auth), 5xx and
// transport errors are retryable.
func (h *WebhookHandler) Deliver(ctx context.Context, cfg Config, payload Payload) error {
	if cfg.URL == "" {
		return core.Errorf(core.CategoryValidation, "integration %s has no URL", cfg.Key())
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return core.Errorf(core.CategoryValidation, "failed to encode payload for %s: %v", cfg.Key(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return core.Errorf(core.CategoryValidation, "failed to build request for %s: %v", cfg.Key(), err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(cfg.Secret, body))
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return core.NewClassifiedError(core.Classify(err),
			fmt.Errorf("webhook delivery to %s failed: %w", cfg.Key(), err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return ClassifyStatus(cfg.Key(), resp.StatusCode)
}

// Sign computes the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ClassifyStatus maps an HTTP status code onto the delivery outcome: nil for
// 2xx, a fatal validation error for 4xx, a retryable external error
// otherwise.
func ClassifyStatus(key string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status >= 400 && status < 500:
		return core.Errorf(core.CategoryValidation,
			"integration %s rejected delivery with status %d", key, status)
	default:
		return core.Errorf(core.CategoryExternalAPI,
			"integration %s returned status %d", key, status)
	}
}
