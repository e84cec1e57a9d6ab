package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sevigo/goframe/llms"

	"github.com/formpulse/formpulse/internal/breaker"
	"github.com/formpulse/formpulse/internal/core"
)

// llmEngine runs workflow tasks against a goframe model, guarded by the
// shared circuit breaker.
type llmEngine struct {
	model    llms.Model
	prompts  *PromptManager
	breaker  *breaker.Breaker
	provider ModelProvider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewLLMEngine creates the production Engine over a goframe model.
func NewLLMEngine(model llms.Model, prompts *PromptManager, brk *breaker.Breaker, provider string, logger *slog.Logger) Engine {
	if provider == "" {
		provider = string(DefaultProvider)
	}
	return &llmEngine{
		model:    model,
		prompts:  prompts,
		breaker:  brk,
		provider: ModelProvider(provider),
		timeout:  DefaultTimeout,
		logger:   logger,
	}
}

// Execute renders the task prompt, calls the model through the circuit
// breaker with a request-level timeout, and decodes the JSON output. A
// non-retryable prompt problem is classified as validation; transport
// failures keep their timeout/external_api_error categories for the retry
// policy.
func (e *llmEngine) Execute(ctx context.Context, task Task, inputs map[string]any) (*Result, error) {
	prompt, err := e.prompts.Render(task, e.provider, inputs)
	if err != nil {
		return nil, core.NewClassifiedError(core.CategoryValidation, err)
	}

	started := time.Now()
	raw, err := breaker.Call(e.breaker, DependencyKey, func() (string, error) {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		return llms.GenerateFromSinglePrompt(callCtx, e.model, prompt)
	})
	if err != nil {
		classified := core.AsClassified(err)
		if classified.Category == core.CategoryUnknown {
			classified = core.NewClassifiedError(core.CategoryExternalAPI, err)
		}
		e.logger.Error("engine call failed",
			"task", task,
			"category", classified.Category,
			"error", classified.Message,
		)
		return &Result{
			Success:      false,
			ErrorMessage: classified.Message,
			ErrorType:    string(classified.Category),
		}, classified
	}

	output, err := decodeOutput(raw)
	if err != nil {
		classified := core.NewClassifiedError(core.CategoryExternalAPI,
			fmt.Errorf("engine returned undecodable output for task %s: %w", task, err))
		return &Result{
			Success:      false,
			ErrorMessage: classified.Message,
			ErrorType:    string(classified.Category),
		}, classified
	}

	e.logger.Debug("engine call succeeded",
		"task", task,
		"duration", time.Since(started),
	)
	return &Result{Success: true, Output: output}, nil
}

// decodeOutput extracts the JSON object from the model's reply. Models
// occasionally wrap the object in a code fence or prepend prose despite the
// prompt; take the outermost braces.
func decodeOutput(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = stripCodeFence(trimmed)

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object in output")
	}

	var output map[string]any
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &output); err != nil {
		return nil, fmt.Errorf("invalid JSON object: %w", err)
	}
	return output, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
