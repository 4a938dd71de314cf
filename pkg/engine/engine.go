// Package engine turns a claimed job into a provider invocation. One
// execution resolves the tier configuration, renders the system and user
// prompts, calls the model, decides whether the reply is final, and runs
// structured extraction on final replies. The engine holds no state; the
// worker owns the job lifecycle around it.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arbor-coach/arbor/pkg/blob"
	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/providers"
	"github.com/arbor-coach/arbor/pkg/storage"
	"github.com/arbor-coach/arbor/pkg/templates"
	"github.com/arbor-coach/arbor/pkg/tierconfig"
	"github.com/arbor-coach/arbor/pkg/topicschema"
)

// extractionPrompt asks the model to restate a finished conversation as
// data conforming to the topic's result schema.
const extractionPrompt = "The conversation above has concluded. Capture its final outcome as structured data."

// Result keys recorded when extraction cannot produce a schema-valid object.
const (
	resultKeyRaw        = "raw_response"
	resultKeyParse      = "parse_error"
	resultKeyValidation = "validation_error"
)

// Outcome is the product of one successful execution. The worker applies it
// to the job and session records.
type Outcome struct {
	Message      string
	IsFinal      bool
	Result       map[string]any
	ModelCode    string
	InputTokens  int
	OutputTokens int
}

// Engine executes topics against model providers.
type Engine struct {
	resolver  *tierconfig.Resolver
	templates *templates.Service
	registry  *providers.Registry
	logger    *slog.Logger
}

// New creates an execution engine.
func New(resolver *tierconfig.Resolver, tpls *templates.Service, registry *providers.Registry) *Engine {
	return &Engine{
		resolver:  resolver,
		templates: tpls,
		registry:  registry,
		logger:    slog.Default().With("component", "engine"),
	}
}

// Execute runs one job to a generated reply. session is nil for single-shot
// analyses. The caller bounds the call with a deadline; every provider
// invocation inherits it.
func (e *Engine) Execute(ctx context.Context, job *models.Job, session *models.Session, topic *models.Topic) (*Outcome, error) {
	cfg, err := e.resolver.Resolve(ctx, topic.ID, job.Tier)
	if err != nil {
		return nil, fmt.Errorf("resolve configuration: %w", err)
	}
	sampling := cfg.ApplyTo(topic.Sampling())

	reg, err := e.registry.Get(cfg.ModelCode)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}

	system, err := e.renderSystem(ctx, topic, job.Input)
	if err != nil {
		return nil, err
	}
	user, err := e.templates.Render(ctx, cfg.TemplateID, job.Input)
	if err != nil {
		return nil, fmt.Errorf("render user prompt: %w", err)
	}

	history := priorHistory(session)
	res, err := reg.Provider.Generate(ctx, system, history, user, sampling)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}

	message, isFinal := finalize(res.Text, session, topic)
	out := &Outcome{
		Message:      message,
		IsFinal:      isFinal,
		ModelCode:    cfg.ModelCode,
		InputTokens:  res.InputTokens,
		OutputTokens: res.OutputTokens,
	}

	if isFinal && len(topic.ResultSchema) > 0 {
		out.Result = e.extract(ctx, reg.Provider, topic, system, history, user, res.Text, sampling, job.ID)
	}

	e.logger.Info("Execution complete",
		"job_id", job.ID,
		"topic_id", topic.ID,
		"model_code", cfg.ModelCode,
		"is_final", isFinal,
		"input_tokens", res.InputTokens,
		"output_tokens", res.OutputTokens)
	return out, nil
}

// renderSystem renders the topic's system prompt. Topics without a system
// ref run with an empty system prompt.
func (e *Engine) renderSystem(ctx context.Context, topic *models.Topic, params map[string]any) (string, error) {
	if topic.PromptRefs.System == "" {
		return "", nil
	}
	system, err := e.templates.RenderRef(ctx, topic.PromptRefs.System, params)
	if err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return system, nil
}

// priorHistory returns the conversation before the in-flight message. Intake
// appends the user's message to the session history before the job runs, and
// the rendered user prompt re-carries it, so a trailing user entry is always
// the unanswered one and is trimmed here.
func priorHistory(session *models.Session) []models.ChatMessage {
	if session == nil || len(session.History) == 0 {
		return nil
	}
	history := session.History
	if history[len(history)-1].Role == models.RoleUser {
		history = history[:len(history)-1]
	}
	return history
}

// finalize decides whether the reply ends the conversation and strips the
// completion marker from the delivered text. Single-shot analyses are always
// final.
func finalize(text string, session *models.Session, topic *models.Topic) (string, bool) {
	if session == nil {
		return strings.TrimSpace(text), true
	}
	isFinal := false
	if topic.CompletionMarker != "" && strings.Contains(text, topic.CompletionMarker) {
		isFinal = true
		text = strings.ReplaceAll(text, topic.CompletionMarker, "")
	}
	if session.MaxTurns > 0 && session.Turn+1 >= session.MaxTurns {
		isFinal = true
	}
	return strings.TrimSpace(text), isFinal
}

// extract runs the constrained second call against the topic's result
// schema. Extraction never fails the job: any failure is recorded in the
// result map beside the raw response, and the reply stays deliverable.
func (e *Engine) extract(ctx context.Context, provider providers.Provider, topic *models.Topic,
	system string, history []models.ChatMessage, user, reply string, sampling models.SamplingParams, jobID string) map[string]any {

	convo := append(append([]models.ChatMessage{}, history...),
		models.ChatMessage{Role: models.RoleUser, Content: user},
		models.ChatMessage{Role: models.RoleAssistant, Content: reply},
	)

	raw, err := provider.GenerateStructured(ctx, topic.ResultSchema, system, convo, extractionPrompt, sampling)
	if err != nil {
		e.logger.Warn("Extraction call failed, recording raw response",
			"job_id", jobID, "topic_id", topic.ID, "error", err)
		return map[string]any{resultKeyRaw: reply, resultKeyParse: err.Error()}
	}

	var result map[string]any
	if err := json.Unmarshal(raw, &result); err != nil {
		e.logger.Warn("Extraction output is not a JSON object",
			"job_id", jobID, "topic_id", topic.ID, "error", err)
		return map[string]any{resultKeyRaw: string(raw), resultKeyParse: err.Error()}
	}

	if err := topicschema.Validate(topic.ResultSchema, result); err != nil {
		e.logger.Warn("Extraction output failed schema validation",
			"job_id", jobID, "topic_id", topic.ID, "error", err)
		return map[string]any{resultKeyRaw: string(raw), resultKeyValidation: err.Error()}
	}
	return result
}

// Classify maps an execution failure to its terminal error code. Render
// failures are parameter problems; broken or missing configuration
// references surface as configuration errors; everything else came from the
// provider call.
func Classify(err error) models.ErrorCode {
	var renderErr *templates.RenderError
	switch {
	case errors.As(err, &renderErr):
		return models.ErrCodeParameterValidation
	case errors.Is(err, tierconfig.ErrConfigNotFound),
		errors.Is(err, tierconfig.ErrInvalidReference),
		errors.Is(err, config.ErrModelNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, blob.ErrNotFound):
		return models.ErrCodeConfigNotFound
	}
	return providers.Classify(err)
}
