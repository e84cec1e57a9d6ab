package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"github.com/formpulse/formpulse/internal/core"
)

// SlackHandler posts a formatted message to a Slack incoming-webhook URL.
type SlackHandler struct {
	client *http.Client
	logger *slog.Logger
}

// NewSlackHandler creates the Slack handler.
func NewSlackHandler(client *http.Client, logger *slog.Logger) *SlackHandler {
	return &SlackHandler{client: client, logger: logger}
}

// Deliver renders the payload into Slack message JSON and posts it. Slack
// incoming webhooks answer 200 with body "ok"; any 4xx means the webhook URL
// is revoked or malformed and is not worth retrying.
func (h *SlackHandler) Deliver(ctx context.Context, cfg Config, payload Payload) error {
	if cfg.URL == "" {
		return core.Errorf(core.CategoryValidation, "integration %s has no URL", cfg.Key())
	}

	message := map[string]any{
		"text": h.formatMessage(payload),
	}
	body, err := json.Marshal(message)
	if err != nil {
		return core.Errorf(core.CategoryValidation, "failed to encode slack message for %s: %v", cfg.Key(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return core.Errorf(core.CategoryValidation, "failed to build request for %s: %v", cfg.Key(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return core.NewClassifiedError(core.Classify(err),
			fmt.Errorf("slack delivery for %s failed: %w", cfg.Key(), err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	return ClassifyStatus(cfg.Key(), resp.StatusCode)
}

func (h *SlackHandler) formatMessage(payload Payload) string {
	var b strings.Builder
	formTitle, _ := payload.Form["title"].(string)
	if formTitle == "" {
		formTitle, _ = payload.Form["id"].(string)
	}
	fmt.Fprintf(&b, ":inbox_tray: *%s* — %s\n", formTitle, payload.Event)

	keys := make([]string, 0, len(payload.Answers))
	for k := range payload.Answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "• *%s*: %v\n", k, payload.Answers[k])
	}
	return b.String()
}
