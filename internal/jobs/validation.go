package jobs

import (
	"github.com/formpulse/formpulse/internal/core"
)

// ValidatePayload ensures the work unit payload carries the string fields a
// job needs before any external call is made. Missing fields are a
// validation failure: fatal, never retried.
func ValidatePayload(unit *core.WorkUnit, requiredFields ...string) error {
	if err := unit.Validate(); err != nil {
		return err
	}
	for _, field := range requiredFields {
		if unit.PayloadString(field) == "" {
			return core.Errorf(core.CategoryValidation,
				"work unit %s payload is missing required field %q", unit.ID, field)
		}
	}
	return nil
}

// payloadMap returns a map payload field, or an empty map when absent.
func payloadMap(unit *core.WorkUnit, key string) map[string]any {
	if v, ok := unit.Payload[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}
