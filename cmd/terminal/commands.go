package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
)

// pollInterval drives the automatic run-list refresh.
const pollInterval = 5 * time.Second

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

// apiClient is a thin HTTP client for the FormPulse API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

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

func pollCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(t time.Time) tea.Msg {
		return pollTickMsg(t)
	})
}

func loadRunsCmd(client *apiClient, limit int) tea.Cmd {
	return func() tea.Msg {
		var runs []runView
		path := fmt.Sprintf("/api/v1/runs?limit=%d", limit)
		if err := client.getJSON(context.Background(), path, &runs); err != nil {
			return runsLoadedMsg{err: err}
		}
		return runsLoadedMsg{runs: runs}
	}
}

func loadRunCmd(client *apiClient, workUnitID string, width int) tea.Cmd {
	return func() tea.Msg {
		var run runView
		if err := client.getJSON(context.Background(), "/api/v1/runs/"+workUnitID, &run); err != nil {
			return runLoadedMsg{workUnitID: workUnitID, err: err}
		}

		rendered, err := renderRunMarkdown(run, width)
		if err != nil {
			return runLoadedMsg{workUnitID: workUnitID, err: err}
		}
		return runLoadedMsg{workUnitID: workUnitID, rendered: rendered}
	}
}

func loadCreditsCmd(client *apiClient, userID string) tea.Cmd {
	return func() tea.Msg {
		var balance struct {
			UserID    string  `json:"userId"`
			Remaining float64 `json:"remaining"`
		}
		if err := client.getJSON(context.Background(), "/api/v1/credits/"+userID, &balance); err != nil {
			return creditsLoadedMsg{userID: userID, err: err}
		}
		return creditsLoadedMsg{userID: balance.UserID, remaining: balance.Remaining}
	}
}

// renderRunMarkdown builds a markdown report for one run and renders it for
// the terminal.
func renderRunMarkdown(run runView, width int) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Run %s\n\n", run.WorkUnitID)
	fmt.Fprintf(&b, "- **Event:** %s\n", run.EventType)
	fmt.Fprintf(&b, "- **Attempt:** %d\n", run.AttemptNumber)
	fmt.Fprintf(&b, "- **Status:** %s\n", run.OverallStatus)
	fmt.Fprintf(&b, "- **Duration:** %s\n\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))

	b.WriteString("| Step | Required | Status | Error |\n")
	b.WriteString("| --- | --- | --- | --- |\n")
	for _, step := range run.Steps {
		errText := ""
		if step.Error != nil {
			errText = fmt.Sprintf("[%s] %s", step.Error.Category, step.Error.Message)
		}
		fmt.Fprintf(&b, "| %s | %v | %s | %s |\n", step.StepName, step.Required, step.Status, errText)
	}

	var effects []string
	for _, step := range run.Steps {
		if len(step.SideEffects) == 0 {
			continue
		}
		data, err := json.MarshalIndent(step.SideEffects, "", "  ")
		if err != nil {
			continue
		}
		effects = append(effects, fmt.Sprintf("**%s**\n\n```json\n%s\n```", step.StepName, data))
	}
	if len(effects) > 0 {
		b.WriteString("\n## Side effects\n\n")
		b.WriteString(strings.Join(effects, "\n\n"))
		b.WriteString("\n")
	}

	if width <= 0 {
		width = 80
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create markdown renderer: %w", err)
	}
	return renderer.Render(b.String())
}
