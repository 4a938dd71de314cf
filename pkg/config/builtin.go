package config

import (
	"sync"

	"github.com/arbor-coach/arbor/pkg/models"
)

// BuiltinCatalog is the configuration baked into the binary: enough topics
// and model registrations for a bare deployment to serve coaching traffic
// before any YAML is written. File-based config merges over it.
type BuiltinCatalog struct {
	Topics           map[string]TopicYAML
	Models           map[string]ModelConfig
	DefaultModelCode string
}

// Builtins returns the baked-in catalog. The value is shared; callers must
// treat it as read-only.
func Builtins() *BuiltinCatalog {
	return builtins()
}

var builtins = sync.OnceValue(func() *BuiltinCatalog {
	return &BuiltinCatalog{
		Topics:           builtinTopics(),
		Models:           builtinModels(),
		DefaultModelCode: "claude-sonnet-4",
	}
})

func builtinTopics() map[string]TopicYAML {
	coachingTemp := 0.7
	analysisTemp := 0.2

	return map[string]TopicYAML{
		"career-coaching": {
			Kind:        models.JobKindCoachingMessage,
			ModelCode:   "claude-sonnet-4",
			Temperature: &coachingTemp,
			MaxTokens:   1024,
			MaxTurns:    5,
			// The model is instructed to emit this marker when the user's
			// goal for the conversation is met.
			CompletionMarker: "[COACHING_COMPLETE]",
			PromptRefs: promptRefs(
				"prompts/career-coaching/system.tmpl",
				"prompts/career-coaching/user.tmpl",
			),
			ParamSchema: map[string]any{
				"type":     "object",
				"required": []any{"message"},
				"properties": map[string]any{
					"message": map[string]any{"type": "string", "minLength": 1},
				},
			},
			ResultSchema: map[string]any{
				"type":     "object",
				"required": []any{"summary", "action_items"},
				"properties": map[string]any{
					"summary":      map[string]any{"type": "string"},
					"action_items": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
		"weekly-reflection": {
			Kind:        models.JobKindSingleShotAnalysis,
			ModelCode:   "claude-sonnet-4",
			Temperature: &analysisTemp,
			MaxTokens:   2048,
			PromptRefs: promptRefs(
				"prompts/weekly-reflection/system.tmpl",
				"prompts/weekly-reflection/user.tmpl",
			),
			ParamSchema: map[string]any{
				"type":     "object",
				"required": []any{"entries"},
				"properties": map[string]any{
					"entries": map[string]any{"type": "array", "minItems": 1},
				},
			},
			ResultSchema: map[string]any{
				"type":     "object",
				"required": []any{"themes"},
				"properties": map[string]any{
					"themes": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
			AggregationPeriodCount: 7,
		},
	}
}

func builtinModels() map[string]ModelConfig {
	return map[string]ModelConfig{
		"claude-sonnet-4": {
			Provider:          ProviderTypeAnthropic,
			Model:             "claude-sonnet-4-20250514",
			APIKeyEnv:         "ANTHROPIC_API_KEY",
			MaxContextTokens:  200000,
			SupportsStreaming: true,
		},
		"gpt-4o": {
			Provider:          ProviderTypeOpenAI,
			Model:             "gpt-4o",
			APIKeyEnv:         "OPENAI_API_KEY",
			MaxContextTokens:  128000,
			SupportsStreaming: true,
		},
	}
}

func promptRefs(system, user string) models.PromptRefs {
	return models.PromptRefs{System: system, User: user}
}
