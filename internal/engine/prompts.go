package engine

import (
	"bytes"
	"embed"
	"fmt"
	"path/filepath"
	"strings"
	"text/template"
)

//go:embed prompts/*.prompt
var promptFiles embed.FS

// ModelProvider selects a provider-specific prompt variant.
type ModelProvider string

// DefaultProvider is the fallback variant used when no provider-specific
// prompt exists.
const DefaultProvider ModelProvider = "default"

// PromptManager holds the parsed prompt templates, keyed by task and
// provider. Prompt files are named "<task>_<provider>.prompt".
type PromptManager struct {
	prompts map[Task]map[ModelProvider]*template.Template
}

// NewPromptManager parses every embedded prompt file.
func NewPromptManager() (*PromptManager, error) {
	pm := &PromptManager{
		prompts: make(map[Task]map[ModelProvider]*template.Template),
	}

	files, err := promptFiles.ReadDir("prompts")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded prompts directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		fileName := file.Name()
		baseName := strings.TrimSuffix(fileName, filepath.Ext(fileName))
		lastUnderscore := strings.LastIndex(baseName, "_")
		if lastUnderscore <= 0 || lastUnderscore == len(baseName)-1 {
			return nil, fmt.Errorf("invalid prompt filename format: %s (expected 'task_provider.prompt')", fileName)
		}

		task := Task(baseName[:lastUnderscore])
		provider := ModelProvider(baseName[lastUnderscore+1:])

		content, err := promptFiles.ReadFile("prompts/" + fileName)
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded prompt file %s: %w", fileName, err)
		}

		if err := pm.register(task, provider, string(content)); err != nil {
			return nil, fmt.Errorf("failed to register prompt from file %s: %w", fileName, err)
		}
	}

	return pm, nil
}

func (pm *PromptManager) register(task Task, provider ModelProvider, content string) error {
	tmpl, err := template.New(string(task) + "_" + string(provider)).Parse(content)
	if err != nil {
		return fmt.Errorf("could not parse template: %w", err)
	}

	if _, ok := pm.prompts[task]; !ok {
		pm.prompts[task] = make(map[ModelProvider]*template.Template)
	}
	pm.prompts[task][provider] = tmpl
	return nil
}

// Render produces the prompt text for a task with the given template data,
// preferring a provider-specific variant and falling back to default.
func (pm *PromptManager) Render(task Task, provider ModelProvider, data any) (string, error) {
	taskPrompts, ok := pm.prompts[task]
	if !ok {
		return "", fmt.Errorf("no prompts found for task %q", task)
	}

	tmpl, ok := taskPrompts[provider]
	if !ok {
		tmpl, ok = taskPrompts[DefaultProvider]
	}
	if !ok {
		return "", fmt.Errorf("no template for task %q and provider %q, and no default available", task, provider)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render prompt for task %q: %w", task, err)
	}
	return buf.String(), nil
}
