package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/formpulse/formpulse/internal/integrations"
)

// apiClient is a thin HTTP client for the FormPulse API.
type apiClient struct {
	baseURL string
	secret  string
	http    *http.Client
}

func newAPIClient() *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(serverURL, "/"),
		secret:  webhookSecret,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// postEvent signs and submits one domain event, returning the work unit id.
func (c *apiClient) postEvent(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/events", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(integrations.SignatureHeader, integrations.Sign(c.secret, body))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("server rejected event (%s): %s", resp.Status, strings.TrimSpace(string(raw)))
	}

	var parsed struct {
		WorkUnitID string `json:"workUnitId"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return parsed.WorkUnitID, nil
}

// getJSON fetches a path and decodes the JSON response into out.
func (c *apiClient) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(raw)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// runView mirrors the server's run record response shape.
type runView struct {
	WorkUnitID    string     `json:"workUnitId"`
	EventType     string     `json:"eventType"`
	AttemptNumber int        `json:"attemptNumber"`
	OverallStatus string     `json:"overallStatus"`
	StartedAt     time.Time  `json:"startedAt"`
	FinishedAt    time.Time  `json:"finishedAt"`
	Steps         []stepView `json:"steps"`
}

type stepView struct {
	StepName    string         `json:"stepName"`
	Required    bool           `json:"required"`
	Status      string         `json:"status"`
	Error       *errorView     `json:"error,omitempty"`
	SideEffects map[string]any `json:"sideEffects,omitempty"`
	RecordedAt  time.Time      `json:"recordedAt"`
}

type errorView struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}
