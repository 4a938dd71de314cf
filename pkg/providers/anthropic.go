package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/models"
)

// MessagesClient captures the subset of the Anthropic SDK used here. It is
// satisfied by *sdk.MessageService so tests can pass a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicProvider implements Provider on top of the Claude Messages API.
type AnthropicProvider struct {
	msg   MessagesClient
	model string
}

// extractToolName is the forced tool used to obtain structured output from
// Claude. Tool input schemas are the vendor-native way to constrain the
// response shape; the reply arrives as the tool call's input JSON.
const extractToolName = "record_result"

// NewAnthropicProvider builds a Claude-backed provider from a model
// registration. The API key is read from the configured environment
// variable at construction time.
func NewAnthropicProvider(cfg *config.ModelConfig) (*AnthropicProvider, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: environment variable %s is not set", cfg.APIKeyEnv)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	ac := sdk.NewClient(opts...)
	return &AnthropicProvider{msg: &ac.Messages, model: cfg.Model}, nil
}

// NewAnthropicProviderWithClient builds a provider around an existing
// Messages client. Used by tests.
func NewAnthropicProviderWithClient(msg MessagesClient, model string) *AnthropicProvider {
	return &AnthropicProvider{msg: msg, model: model}
}

// Generate implements Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, system string, history []models.ChatMessage, user string, sampling models.SamplingParams) (*Result, error) {
	params := p.buildParams(system, history, user, sampling)
	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return anthropicResult(msg), nil
}

// GenerateStructured implements Provider. The schema becomes the input
// schema of a forced tool call; the model's tool input is the structured
// result. When the model answers in prose despite the forced choice, the
// prose comes back as-is so the caller records a parse failure against it.
func (p *AnthropicProvider) GenerateStructured(ctx context.Context, schema json.RawMessage, system string, history []models.ChatMessage, user string, sampling models.SamplingParams) (json.RawMessage, error) {
	var schemaMap map[string]any
	if err := json.Unmarshal(schema, &schemaMap); err != nil {
		return nil, fmt.Errorf("anthropic: invalid extraction schema: %w", err)
	}

	params := p.buildParams(system, history, user, sampling)
	tool := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: schemaMap}, extractToolName)
	if tool.OfTool != nil {
		tool.OfTool.Description = sdk.String("Record the structured result of the conversation.")
	}
	params.Tools = []sdk.ToolUnionParam{tool}
	params.ToolChoice = sdk.ToolChoiceParamOfTool(extractToolName)

	msg, err := p.msg.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	for _, block := range msg.Content {
		if block.Type == "tool_use" && block.Name == extractToolName {
			return json.RawMessage(block.Input), nil
		}
	}
	return json.RawMessage(anthropicResult(msg).Text), nil
}

func (p *AnthropicProvider) buildParams(system string, history []models.ChatMessage, user string, sampling models.SamplingParams) sdk.MessageNewParams {
	msgs := make([]sdk.MessageParam, 0, len(history)+1)
	for _, m := range history {
		switch m.Role {
		case models.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if user != "" {
		msgs = append(msgs, sdk.NewUserMessage(sdk.NewTextBlock(user)))
	}

	params := sdk.MessageNewParams{
		MaxTokens: int64(sampling.MaxTokens),
		Messages:  msgs,
		Model:     sdk.Model(p.model),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if sampling.Temperature > 0 {
		params.Temperature = sdk.Float(sampling.Temperature)
	}
	// The API rejects requests that pin both knobs, so top_p rides along
	// only when it actually constrains sampling.
	if sampling.TopP > 0 && sampling.TopP < 1 {
		params.TopP = sdk.Float(sampling.TopP)
	}
	return params
}

func anthropicResult(msg *sdk.Message) *Result {
	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &Result{
		Text:         text.String(),
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
		StopReason:   string(msg.StopReason),
	}
}
