package config

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/models"
)

func TestTopicRegistry(t *testing.T) {
	topics := map[string]*models.Topic{
		"career-coaching": {
			ID:        "career-coaching",
			Kind:      models.JobKindCoachingMessage,
			ModelCode: "claude-sonnet-4",
			MaxTurns:  5,
			IsActive:  true,
		},
		"weekly-reflection": {
			ID:        "weekly-reflection",
			Kind:      models.JobKindSingleShotAnalysis,
			ModelCode: "gpt-4o",
			IsActive:  true,
		},
	}

	r := NewTopicRegistry(topics)

	t.Run("Get existing", func(t *testing.T) {
		topic, err := r.Get("career-coaching")
		require.NoError(t, err)
		assert.Equal(t, models.JobKindCoachingMessage, topic.Kind)
		assert.Equal(t, 5, topic.MaxTurns)
	})

	t.Run("Get missing", func(t *testing.T) {
		_, err := r.Get("no-such-topic")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrTopicNotFound)
		assert.Contains(t, err.Error(), "no-such-topic")
	})

	t.Run("Has", func(t *testing.T) {
		assert.True(t, r.Has("weekly-reflection"))
		assert.False(t, r.Has("missing"))
	})

	t.Run("Len and IDs", func(t *testing.T) {
		assert.Equal(t, 2, r.Len())
		assert.Equal(t, []string{"career-coaching", "weekly-reflection"}, r.IDs())
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := r.GetAll()
		delete(all, "career-coaching")
		assert.True(t, r.Has("career-coaching"), "registry must not observe caller mutations")
	})
}

func TestModelRegistry(t *testing.T) {
	entries := map[string]*ModelConfig{
		"claude-sonnet-4": {
			Provider:         ProviderTypeAnthropic,
			Model:            "claude-sonnet-4-20250514",
			MaxContextTokens: 200000,
		},
	}

	r := NewModelRegistry(entries)

	t.Run("Get existing", func(t *testing.T) {
		m, err := r.Get("claude-sonnet-4")
		require.NoError(t, err)
		assert.Equal(t, ProviderTypeAnthropic, m.Provider)
	})

	t.Run("Get missing", func(t *testing.T) {
		_, err := r.Get("unknown-code")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrModelNotFound)
	})

	t.Run("Has Len Codes", func(t *testing.T) {
		assert.True(t, r.Has("claude-sonnet-4"))
		assert.Equal(t, 1, r.Len())
		assert.Equal(t, []string{"claude-sonnet-4"}, r.Codes())
	})
}

func TestTopicYAMLToTopic(t *testing.T) {
	temp := 0.3
	topP := 0.95
	y := &TopicYAML{
		Kind:             models.JobKindCoachingMessage,
		ModelCode:        "claude-sonnet-4",
		Temperature:      &temp,
		TopP:             &topP,
		MaxTokens:        512,
		MaxTurns:         4,
		CompletionMarker: "[DONE]",
		PromptRefs:       models.PromptRefs{System: "s.tmpl", User: "u.tmpl"},
		ParamSchema: map[string]any{
			"type":     "object",
			"required": []any{"message"},
		},
	}

	topic, err := y.toTopic("test-topic", &Defaults{ModelCode: "fallback"})
	require.NoError(t, err)

	assert.Equal(t, "test-topic", topic.ID)
	assert.Equal(t, "claude-sonnet-4", topic.ModelCode)
	assert.Equal(t, 0.3, topic.Temperature)
	assert.Equal(t, 0.95, topic.TopP)
	assert.Equal(t, 512, topic.MaxTokens)
	assert.Equal(t, "[DONE]", topic.CompletionMarker)
	assert.True(t, topic.IsActive)

	// Schema converted to raw JSON
	require.NotNil(t, topic.ParamSchema)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(topic.ParamSchema, &schema))
	assert.Equal(t, "object", schema["type"])

	// Nil result schema stays nil
	assert.Nil(t, topic.ResultSchema)
}

func TestTopicYAMLDefaults(t *testing.T) {
	y := &TopicYAML{
		Kind:       models.JobKindSingleShotAnalysis,
		PromptRefs: models.PromptRefs{User: "u.tmpl"},
	}

	topic, err := y.toTopic("bare", &Defaults{ModelCode: "fallback-model"})
	require.NoError(t, err)

	assert.Equal(t, "fallback-model", topic.ModelCode, "omitted model_code falls back to defaults")
	assert.Equal(t, DefaultTemperature, topic.Temperature)
	assert.Equal(t, DefaultTopP, topic.TopP)
	assert.Equal(t, DefaultMaxTokens, topic.MaxTokens)
	assert.True(t, topic.IsActive, "topics are active unless disabled")
}

func TestTopicYAMLDisabled(t *testing.T) {
	y := &TopicYAML{
		Kind:       models.JobKindCoachingMessage,
		ModelCode:  "m",
		PromptRefs: models.PromptRefs{User: "u.tmpl"},
		Disabled:   true,
	}

	topic, err := y.toTopic("off", nil)
	require.NoError(t, err)
	assert.False(t, topic.IsActive)
}
