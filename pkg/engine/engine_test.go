package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-coach/arbor/pkg/blob"
	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/providers"
	"github.com/arbor-coach/arbor/pkg/storage"
	"github.com/arbor-coach/arbor/pkg/templates"
	"github.com/arbor-coach/arbor/pkg/tierconfig"
)

var summarySchema = json.RawMessage(`{
	"type": "object",
	"required": ["summary"],
	"properties": {"summary": {"type": "string"}}
}`)

type engineEnv struct {
	engine  *Engine
	fake    *providers.FakeProvider
	topics  map[string]*models.Topic
	configs *storage.MemoryConfigStore
}

func setupEngine(t *testing.T) *engineEnv {
	t.Helper()
	ctx := context.Background()

	topics := map[string]*models.Topic{
		"career-coaching": {
			ID:               "career-coaching",
			Kind:             models.JobKindCoachingMessage,
			ModelCode:        "fake-model",
			Temperature:      0.7,
			MaxTokens:        512,
			PromptRefs:       models.PromptRefs{System: "prompts/career/system.tmpl", User: "prompts/career/user.tmpl"},
			MaxTurns:         3,
			CompletionMarker: "[COACHING_COMPLETE]",
			ResultSchema:     summarySchema,
			IsActive:         true,
		},
		"weekly-reflection": {
			ID:           "weekly-reflection",
			Kind:         models.JobKindSingleShotAnalysis,
			ModelCode:    "fake-model",
			Temperature:  0.2,
			MaxTokens:    1024,
			PromptRefs:   models.PromptRefs{System: "prompts/weekly/system.tmpl", User: "prompts/weekly/user.tmpl"},
			ResultSchema: summarySchema,
			IsActive:     true,
		},
	}
	registry, err := providers.NewRegistry(config.NewModelRegistry(map[string]*config.ModelConfig{
		"fake-model": {Provider: config.ProviderTypeFake, Model: "fake-1", MaxContextTokens: 10000},
	}))
	require.NoError(t, err)

	// Swap in a handle we can script and inspect.
	fake := providers.NewFakeProvider()
	registry.Register("fake-model", &providers.Registration{Provider: fake, Model: "fake-1"})

	tplStore := storage.NewMemoryTemplateStore()
	require.NoError(t, tplStore.Put(ctx, &models.Template{
		ID: "tpl-career", TemplateCode: "career-user", InteractionCode: "career-coaching",
		BlobRef: "prompts/career/user.tmpl", RequiredParameters: []string{"message"}, IsActive: true,
	}))
	require.NoError(t, tplStore.Put(ctx, &models.Template{
		ID: "tpl-weekly", TemplateCode: "weekly-user", InteractionCode: "weekly-reflection",
		BlobRef: "prompts/weekly/user.tmpl", RequiredParameters: []string{"entries"}, IsActive: true,
	}))
	blobs := blob.NewMemory()
	blobs.Seed(map[string]string{
		"prompts/career/system.tmpl": "You are a career coach.",
		"prompts/career/user.tmpl":   "The client says: {{.message}}",
		"prompts/weekly/system.tmpl": "You analyze reflection journals.",
		"prompts/weekly/user.tmpl":   "Entries: {{.entries}}",
	})
	tpls := templates.NewService(tplStore, blobs)

	configs := storage.NewMemoryConfigStore()
	require.NoError(t, configs.Put(ctx, &models.TierConfig{
		ID: "cfg-career", InteractionCode: "career-coaching", ModelCode: "fake-model",
		TemplateID: "tpl-career", IsActive: true, EffectiveFrom: time.Now().Add(-time.Hour),
	}))
	require.NoError(t, configs.Put(ctx, &models.TierConfig{
		ID: "cfg-weekly", InteractionCode: "weekly-reflection", ModelCode: "fake-model",
		TemplateID: "tpl-weekly", IsActive: true, EffectiveFrom: time.Now().Add(-time.Hour),
	}))

	topicRegistry := config.NewTopicRegistry(topics)
	resolver := tierconfig.NewResolver(configs, topicRegistry, registry, tpls)
	return &engineEnv{
		engine:  New(resolver, tpls, registry),
		fake:    fake,
		topics:  topics,
		configs: configs,
	}
}

func coachingJob() *models.Job {
	return &models.Job{
		ID: "job-1", TenantID: "tenant-1", UserID: "user-1", Tier: models.TierProfessional,
		Kind: models.JobKindCoachingMessage, TopicID: "career-coaching", SessionID: "sess-1",
		Input: map[string]any{"message": "I want a promotion"},
	}
}

func activeSession(turn int) *models.Session {
	return &models.Session{
		ID: "sess-1", TenantID: "tenant-1", UserID: "user-1", TopicID: "career-coaching",
		Status: models.SessionStatusActive, Turn: turn, MaxTurns: 3,
		History: []models.ChatMessage{
			{Role: models.RoleUser, Content: "Where do I start?"},
			{Role: models.RoleAssistant, Content: "Tell me about your role."},
			{Role: models.RoleUser, Content: "I want a promotion"},
		},
	}
}

func TestExecuteMidConversationTurn(t *testing.T) {
	env := setupEngine(t)
	env.fake.ReplyFunc = func(int, string) (string, error) {
		return "Let's map out the conversation with your manager.", nil
	}

	out, err := env.engine.Execute(context.Background(), coachingJob(), activeSession(0), env.topics["career-coaching"])
	require.NoError(t, err)
	assert.Equal(t, "Let's map out the conversation with your manager.", out.Message)
	assert.False(t, out.IsFinal)
	assert.Nil(t, out.Result)
	assert.Equal(t, "fake-model", out.ModelCode)
	assert.Positive(t, out.InputTokens)
	assert.Positive(t, out.OutputTokens)
	assert.Equal(t, 1, env.fake.Calls(), "non-final turns must not trigger extraction")

	// Prompt plumbing: rendered prompts plus the history before the
	// in-flight message.
	inv := env.fake.LastInvocation()
	require.NotNil(t, inv)
	assert.Equal(t, "You are a career coach.", inv.System)
	assert.Equal(t, "The client says: I want a promotion", inv.User)
	require.Len(t, inv.History, 2)
	assert.Equal(t, models.RoleUser, inv.History[0].Role)
	assert.Equal(t, models.RoleAssistant, inv.History[1].Role)
	assert.Equal(t, models.SamplingParams{Temperature: 0.7, MaxTokens: 512}, inv.Sampling)
}

func TestExecuteCompletionMarker(t *testing.T) {
	env := setupEngine(t)
	env.fake.ReplyFunc = func(int, string) (string, error) {
		return "You have a solid plan now. [COACHING_COMPLETE]", nil
	}
	env.fake.StructuredFunc = func(int, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"summary": "promotion plan agreed"}`), nil
	}

	out, err := env.engine.Execute(context.Background(), coachingJob(), activeSession(0), env.topics["career-coaching"])
	require.NoError(t, err)
	assert.True(t, out.IsFinal)
	assert.Equal(t, "You have a solid plan now.", out.Message, "marker must be stripped from the delivered text")
	assert.Equal(t, map[string]any{"summary": "promotion plan agreed"}, out.Result)
	assert.Equal(t, 2, env.fake.Calls())

	// The extraction call sees the whole conversation including the reply.
	inv := env.fake.LastInvocation()
	require.NotNil(t, inv)
	assert.JSONEq(t, string(summarySchema), string(inv.Schema))
	require.NotEmpty(t, inv.History)
	last := inv.History[len(inv.History)-1]
	assert.Equal(t, models.RoleAssistant, last.Role)
	assert.Contains(t, last.Content, "[COACHING_COMPLETE]")
}

func TestExecuteTurnBudgetExhausted(t *testing.T) {
	env := setupEngine(t)
	env.fake.ReplyFunc = func(int, string) (string, error) {
		return "One more thought before we wrap up.", nil
	}

	session := activeSession(2) // third reply spends the budget of 3
	out, err := env.engine.Execute(context.Background(), coachingJob(), session, env.topics["career-coaching"])
	require.NoError(t, err)
	assert.True(t, out.IsFinal, "turn limit forces the final flag without a marker")
	assert.Equal(t, "One more thought before we wrap up.", out.Message)
	assert.NotNil(t, out.Result)
}

func TestExecuteSingleShotAnalysis(t *testing.T) {
	env := setupEngine(t)
	env.fake.StructuredFunc = func(int, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{"summary": "recurring stress theme"}`), nil
	}

	job := &models.Job{
		ID: "job-2", TenantID: "tenant-1", UserID: "user-1",
		Kind: models.JobKindSingleShotAnalysis, TopicID: "weekly-reflection",
		Input: map[string]any{"entries": []any{"mon", "tue"}},
	}
	out, err := env.engine.Execute(context.Background(), job, nil, env.topics["weekly-reflection"])
	require.NoError(t, err)
	assert.True(t, out.IsFinal, "analyses are always final")
	assert.Equal(t, map[string]any{"summary": "recurring stress theme"}, out.Result)
	assert.Equal(t, 2, env.fake.Calls())
}

func TestExecuteExtractionFailures(t *testing.T) {
	run := func(t *testing.T, structured func(int, json.RawMessage) (json.RawMessage, error)) *Outcome {
		t.Helper()
		env := setupEngine(t)
		env.fake.ReplyFunc = func(int, string) (string, error) {
			return "Wrapping up. [COACHING_COMPLETE]", nil
		}
		env.fake.StructuredFunc = structured

		out, err := env.engine.Execute(context.Background(), coachingJob(), activeSession(0), env.topics["career-coaching"])
		require.NoError(t, err, "extraction failures must not fail the job")
		assert.True(t, out.IsFinal)
		assert.Equal(t, "Wrapping up.", out.Message)
		return out
	}

	t.Run("extraction call error", func(t *testing.T) {
		out := run(t, func(int, json.RawMessage) (json.RawMessage, error) {
			return nil, errors.New("tool refused")
		})
		assert.Equal(t, "Wrapping up. [COACHING_COMPLETE]", out.Result["raw_response"])
		assert.Contains(t, out.Result["parse_error"], "tool refused")
	})

	t.Run("non-JSON output", func(t *testing.T) {
		out := run(t, func(int, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage("Here is the summary you asked for."), nil
		})
		assert.Equal(t, "Here is the summary you asked for.", out.Result["raw_response"])
		assert.NotEmpty(t, out.Result["parse_error"])
		assert.NotContains(t, out.Result, "validation_error")
	})

	t.Run("schema violation", func(t *testing.T) {
		out := run(t, func(int, json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(`{"wrong_key": true}`), nil
		})
		assert.Equal(t, `{"wrong_key": true}`, out.Result["raw_response"])
		assert.NotEmpty(t, out.Result["validation_error"])
		assert.NotContains(t, out.Result, "parse_error")
	})
}

func TestExecuteSamplingOverrides(t *testing.T) {
	env := setupEngine(t)
	temp := 0.1
	maxTokens := 64
	require.NoError(t, env.configs.Put(context.Background(), &models.TierConfig{
		ID: "cfg-enterprise", InteractionCode: "career-coaching", Tier: models.TierEnterprise,
		ModelCode: "fake-model", TemplateID: "tpl-career",
		Temperature: &temp, MaxTokens: &maxTokens,
		IsActive: true, EffectiveFrom: time.Now().Add(-time.Hour),
	}))

	job := coachingJob()
	job.Tier = models.TierEnterprise
	_, err := env.engine.Execute(context.Background(), job, activeSession(0), env.topics["career-coaching"])
	require.NoError(t, err)

	inv := env.fake.LastInvocation()
	require.NotNil(t, inv)
	assert.Equal(t, models.SamplingParams{Temperature: 0.1, MaxTokens: 64}, inv.Sampling)
}

func TestExecuteMissingRequiredParameter(t *testing.T) {
	env := setupEngine(t)

	job := coachingJob()
	job.Input = map[string]any{"other": "field"}
	_, err := env.engine.Execute(context.Background(), job, activeSession(0), env.topics["career-coaching"])
	require.Error(t, err)

	var renderErr *templates.RenderError
	assert.ErrorAs(t, err, &renderErr)
	assert.Equal(t, models.ErrCodeParameterValidation, Classify(err))
	assert.Equal(t, 0, env.fake.Calls())
}

func TestExecuteConfigurationNotFound(t *testing.T) {
	env := setupEngine(t)
	topic := &models.Topic{ID: "unconfigured-topic", Kind: models.JobKindCoachingMessage, ModelCode: "fake-model"}

	_, err := env.engine.Execute(context.Background(), coachingJob(), activeSession(0), topic)
	require.Error(t, err)
	assert.ErrorIs(t, err, tierconfig.ErrConfigNotFound)
	assert.Equal(t, models.ErrCodeConfigNotFound, Classify(err))
}

func TestExecuteProviderFailure(t *testing.T) {
	env := setupEngine(t)
	env.fake.ReplyFunc = func(int, string) (string, error) {
		return "", errors.New("upstream 500")
	}

	_, err := env.engine.Execute(context.Background(), coachingJob(), activeSession(0), env.topics["career-coaching"])
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeLLMError, Classify(err))
}

func TestExecuteProviderDeadline(t *testing.T) {
	env := setupEngine(t)
	env.fake.Delay = 5 * time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := env.engine.Execute(ctx, coachingJob(), activeSession(0), env.topics["career-coaching"])
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, models.ErrCodeLLMTimeout, Classify(err))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want models.ErrorCode
	}{
		{"render error", &templates.RenderError{TemplateID: "tpl-1", Reason: "syntax error"}, models.ErrCodeParameterValidation},
		{"wrapped render error", fmt.Errorf("render user prompt: %w", &templates.RenderError{Reason: "missing"}), models.ErrCodeParameterValidation},
		{"config not found", fmt.Errorf("resolve configuration: %w", tierconfig.ErrConfigNotFound), models.ErrCodeConfigNotFound},
		{"invalid reference", fmt.Errorf("resolve configuration: %w", tierconfig.ErrInvalidReference), models.ErrCodeConfigNotFound},
		{"model missing", fmt.Errorf("resolve model: %w", config.ErrModelNotFound), models.ErrCodeConfigNotFound},
		{"template row missing", fmt.Errorf("template tpl-9: %w", storage.ErrNotFound), models.ErrCodeConfigNotFound},
		{"prompt blob missing", fmt.Errorf("render system prompt: %w", blob.ErrNotFound), models.ErrCodeConfigNotFound},
		{"provider timeout", fmt.Errorf("generate: %w", context.DeadlineExceeded), models.ErrCodeLLMTimeout},
		{"provider error", errors.New("connection refused"), models.ErrCodeLLMError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}
