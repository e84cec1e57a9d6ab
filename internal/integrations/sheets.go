package integrations

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/formpulse/formpulse/internal/core"
)

// sheetsAPIBase is the production Sheets API host; tests point the handler at
// a local server instead.
const sheetsAPIBase = "https://sheets.googleapis.com"

// sheetsScope authorizes spreadsheet writes.
const sheetsScope = "https://www.googleapis.com/auth/spreadsheets"

// sheetsEndpoint is the values-append REST path; %s placeholders are the
// spreadsheet id and the escaped range.
const sheetsEndpoint = "%s/v4/spreadsheets/%s/values/%s:append?valueInputOption=RAW"

// SheetsHandler appends one row per response to a Google Sheet.
type SheetsHandler struct {
	client  *http.Client
	tokens  oauth2.TokenSource
	baseURL string
	logger  *slog.Logger
}

// NewSheetsHandler creates the Google Sheets handler. The token source is
// attached via WithTokenSource when sheets credentials are configured.
func NewSheetsHandler(client *http.Client, logger *slog.Logger) *SheetsHandler {
	return &SheetsHandler{client: client, baseURL: sheetsAPIBase, logger: logger}
}

// WithTokenSource returns a copy of the handler that authenticates requests
// with the given oauth2 token source.
func (h *SheetsHandler) WithTokenSource(ts oauth2.TokenSource) *SheetsHandler {
	copied := *h
	copied.tokens = ts
	return &copied
}

// SheetsTokenSource builds a token source from a Google service-account key
// in JSON form, scoped to spreadsheet writes.
func SheetsTokenSource(ctx context.Context, credentialsJSON []byte) (oauth2.TokenSource, error) {
	jwtConfig, err := google.JWTConfigFromJSON(credentialsJSON, sheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sheets service-account credentials: %w", err)
	}
	return jwtConfig.TokenSource(ctx), nil
}

// Deliver appends the response's answers as a single row, one column per
// answer key in sorted order, prefixed by the response id and timestamp.
func (h *SheetsHandler) Deliver(ctx context.Context, cfg Config, payload Payload) error {
	if cfg.SpreadsheetID == "" {
		return core.Errorf(core.CategoryValidation, "integration %s has no spreadsheet id", cfg.Key())
	}
	if h.tokens == nil {
		return core.Errorf(core.CategoryValidation,
			"integration %s requires sheets credentials, none configured", cfg.Key())
	}
	sheetRange := cfg.SheetRange
	if sheetRange == "" {
		sheetRange = "A1"
	}

	row := []any{payloadResponseID(payload), payload.Timestamp.UTC().Format("2006-01-02 15:04:05")}
	keys := make([]string, 0, len(payload.Answers))
	for k := range payload.Answers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		row = append(row, fmt.Sprintf("%v", payload.Answers[k]))
	}

	body, err := json.Marshal(map[string]any{"values": [][]any{row}})
	if err != nil {
		return core.Errorf(core.CategoryValidation, "failed to encode sheet row for %s: %v", cfg.Key(), err)
	}

	endpoint := fmt.Sprintf(sheetsEndpoint, h.baseURL, url.PathEscape(cfg.SpreadsheetID), url.PathEscape(sheetRange))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return core.Errorf(core.CategoryValidation, "failed to build request for %s: %v", cfg.Key(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, h.client), h.tokens)
	resp, err := client.Do(req)
	if err != nil {
		return core.NewClassifiedError(core.Classify(err),
			fmt.Errorf("sheets delivery for %s failed: %w", cfg.Key(), err))
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	return ClassifyStatus(cfg.Key(), resp.StatusCode)
}

func payloadResponseID(payload Payload) string {
	if id, ok := payload.Response["id"].(string); ok {
		return id
	}
	return ""
}
