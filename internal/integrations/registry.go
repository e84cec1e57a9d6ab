// Package integrations fans out form events to third-party endpoints. Each
// integration type maps to a handler in a registry resolved once at startup;
// dispatch is by tagged type, never by runtime string matching in job code.
package integrations

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"golang.org/x/oauth2"
)

// Type tags a configured integration.
type Type string

const (
	TypeWebhook Type = "webhook"
	TypeSlack   Type = "slack"
	TypeSheets  Type = "google_sheets"
)

// Config describes one enabled integration for a form.
type Config struct {
	Type    Type              `yaml:"type"`
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// SpreadsheetID and SheetRange apply to google_sheets only.
	SpreadsheetID string `yaml:"spreadsheet_id,omitempty"`
	SheetRange    string `yaml:"sheet_range,omitempty"`
}

// Key returns a stable identifier for step naming and logging.
func (c Config) Key() string {
	if c.Name != "" {
		return fmt.Sprintf("%s:%s", c.Type, c.Name)
	}
	return string(c.Type)
}

// Payload is the stable body shape sent to every integration.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Form      map[string]any `json:"form"`
	Response  map[string]any `json:"response"`
	Answers   map[string]any `json:"answers"`
	Metadata  map[string]any `json:"metadata"`
}

// Handler delivers one payload to one configured endpoint. Failures must be
// classified: 4xx responses are validation (fatal), 5xx and timeouts are
// retryable.
type Handler interface {
	Deliver(ctx context.Context, cfg Config, payload Payload) error
}

// Registry resolves integration types to handlers. Built once at startup;
// read-only afterwards, safe for concurrent use.
type Registry struct {
	handlers map[Type]Handler
	logger   *slog.Logger
}

// Option configures the registry at construction time.
type Option func(*Registry)

// WithSheetsTokenSource authenticates the Google Sheets handler with the
// given oauth2 token source.
func WithSheetsTokenSource(ts oauth2.TokenSource) Option {
	return func(r *Registry) {
		if h, ok := r.handlers[TypeSheets].(*SheetsHandler); ok {
			r.handlers[TypeSheets] = h.WithTokenSource(ts)
		}
	}
}

// NewRegistry builds the registry with the stock handlers.
func NewRegistry(httpClient *http.Client, logger *slog.Logger, opts ...Option) *Registry {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	r := &Registry{
		handlers: map[Type]Handler{
			TypeWebhook: NewWebhookHandler(httpClient, logger),
			TypeSlack:   NewSlackHandler(httpClient, logger),
			TypeSheets:  NewSheetsHandler(httpClient, logger),
		},
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandlerFor returns the handler for a type, or an error for unknown types.
func (r *Registry) HandlerFor(t Type) (Handler, error) {
	h, ok := r.handlers[t]
	if !ok {
		return nil, fmt.Errorf("no handler registered for integration type %q", t)
	}
	return h, nil
}

// Types lists the registered integration types, sorted for stable output.
func (r *Registry) Types() []Type {
	types := make([]Type, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
