// Package formconfig loads per-form workflow configuration: which steps are
// enabled, which are required, the integrations to fan out to, and the
// credit cost of AI steps. Forms without a config entry get the defaults.
package formconfig

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/formpulse/formpulse/internal/integrations"
)

var (
	ErrConfigNotFound = errors.New("form config file not found")
	ErrConfigParsing  = errors.New("form config parsing failed")
)

// FormConfig describes one form's workflow behavior.
type FormConfig struct {
	FormID string `yaml:"form_id"`
	// AIEnhanced gates the queue_ai_analysis completion step.
	AIEnhanced bool `yaml:"ai_enhanced"`
	// AICreditCost is debited per successful engine call.
	AICreditCost float64 `yaml:"ai_credit_cost"`
	// RateLimitPerMinute overrides the tenant default when positive.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
	// AnalyticsRequired marks the update_analytics step required; it
	// defaults to true and is the only required completion step.
	AnalyticsRequired *bool                 `yaml:"analytics_required,omitempty"`
	Integrations      []integrations.Config `yaml:"integrations,omitempty"`
}

// Registry holds the loaded form configs, keyed by form id.
type Registry struct {
	forms    map[string]FormConfig
	defaults FormConfig
}

// Default returns the stock config applied to unknown forms.
func Default() FormConfig {
	return FormConfig{
		AIEnhanced:   true,
		AICreditCost: 0.02,
	}
}

// Load reads a YAML file with a top-level "forms" list. A missing file is
// not an error for the caller that can run on defaults; it is reported via
// ErrConfigNotFound alongside a usable registry.
func Load(path string) (*Registry, error) {
	registry := &Registry{
		forms:    make(map[string]FormConfig),
		defaults: Default(),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return registry, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read form config %s: %w", path, err)
	}

	var file struct {
		Forms []FormConfig `yaml:"forms"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParsing, err)
	}

	for _, form := range file.Forms {
		if form.FormID == "" {
			return nil, fmt.Errorf("%w: form entry without form_id", ErrConfigParsing)
		}
		if form.AICreditCost <= 0 {
			form.AICreditCost = registry.defaults.AICreditCost
		}
		registry.forms[form.FormID] = form
	}
	return registry, nil
}

// NewRegistry builds a registry from explicit configs, for tests and
// programmatic setup.
func NewRegistry(forms ...FormConfig) *Registry {
	registry := &Registry{
		forms:    make(map[string]FormConfig, len(forms)),
		defaults: Default(),
	}
	for _, form := range forms {
		registry.forms[form.FormID] = form
	}
	return registry
}

// SetDefaultRateLimit installs the fallback per-minute allowance applied to
// forms without their own override.
func (r *Registry) SetDefaultRateLimit(limit int) {
	if limit > 0 {
		r.defaults.RateLimitPerMinute = limit
	}
}

// For returns the config for a form, falling back to defaults.
func (r *Registry) For(formID string) FormConfig {
	if cfg, ok := r.forms[formID]; ok {
		return cfg
	}
	cfg := r.defaults
	cfg.FormID = formID
	return cfg
}

// AnalyticsIsRequired resolves the tri-state flag with its default of true.
func (c FormConfig) AnalyticsIsRequired() bool {
	if c.AnalyticsRequired == nil {
		return true
	}
	return *c.AnalyticsRequired
}
