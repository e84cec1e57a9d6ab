package formconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formpulse/formpulse/internal/integrations"
)

const sampleConfig = `
forms:
  - form_id: feedback
    ai_enhanced: true
    ai_credit_cost: 0.05
    rate_limit_per_minute: 5
    integrations:
      - type: webhook
        name: crm
        url: https://example.com/hook
        secret: topsecret
  - form_id: newsletter
    ai_enhanced: false
    analytics_required: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "forms.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	registry, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	feedback := registry.For("feedback")
	assert.True(t, feedback.AIEnhanced)
	assert.Equal(t, 0.05, feedback.AICreditCost)
	assert.Equal(t, 5, feedback.RateLimitPerMinute)
	assert.True(t, feedback.AnalyticsIsRequired())
	require.Len(t, feedback.Integrations, 1)
	assert.Equal(t, integrations.TypeWebhook, feedback.Integrations[0].Type)
	assert.Equal(t, "webhook:crm", feedback.Integrations[0].Key())

	newsletter := registry.For("newsletter")
	assert.False(t, newsletter.AIEnhanced)
	assert.False(t, newsletter.AnalyticsIsRequired())
	assert.Equal(t, 0.02, newsletter.AICreditCost,
		"a missing credit cost falls back to the default")
}

func TestLoad_MissingFileYieldsUsableDefaults(t *testing.T) {
	registry, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))

	require.ErrorIs(t, err, ErrConfigNotFound)
	require.NotNil(t, registry, "callers without a config file run on defaults")

	cfg := registry.For("anything")
	assert.True(t, cfg.AIEnhanced)
	assert.Equal(t, 0.02, cfg.AICreditCost)
	assert.True(t, cfg.AnalyticsIsRequired())
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "forms: [not, {valid"))
	assert.ErrorIs(t, err, ErrConfigParsing)
}

func TestLoad_FormWithoutIDRejected(t *testing.T) {
	_, err := Load(writeConfig(t, "forms:\n  - ai_enhanced: true\n"))
	assert.ErrorIs(t, err, ErrConfigParsing)
}

func TestFor_UnknownFormGetsDefaultsWithItsID(t *testing.T) {
	registry := NewRegistry(FormConfig{FormID: "known"})

	cfg := registry.For("unknown")
	assert.Equal(t, "unknown", cfg.FormID)
	assert.True(t, cfg.AIEnhanced)
}

func TestSetDefaultRateLimit(t *testing.T) {
	registry := NewRegistry()

	registry.SetDefaultRateLimit(7)
	assert.Equal(t, 7, registry.For("any").RateLimitPerMinute)

	registry.SetDefaultRateLimit(0)
	assert.Equal(t, 7, registry.For("any").RateLimitPerMinute,
		"a non-positive limit leaves the default untouched")
}

func TestAnalyticsIsRequired(t *testing.T) {
	yes, no := true, false

	assert.True(t, FormConfig{}.AnalyticsIsRequired())
	assert.True(t, FormConfig{AnalyticsRequired: &yes}.AnalyticsIsRequired())
	assert.False(t, FormConfig{AnalyticsRequired: &no}.AnalyticsIsRequired())
}
