package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/arbor-coach/arbor/pkg/config"
	"github.com/arbor-coach/arbor/pkg/models"
)

// ChatClient captures the subset of the go-openai client used here.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIProvider implements Provider via the Chat Completions API. With a
// custom base URL it also fronts OpenAI-compatible gateways.
type OpenAIProvider struct {
	chat  ChatClient
	model string
}

// NewOpenAIProvider builds an OpenAI-backed provider from a model
// registration.
func NewOpenAIProvider(cfg *config.ModelConfig) (*OpenAIProvider, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" {
		return nil, fmt.Errorf("openai: environment variable %s is not set", cfg.APIKeyEnv)
	}
	clientCfg := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{chat: openai.NewClientWithConfig(clientCfg), model: cfg.Model}, nil
}

// NewOpenAIProviderWithClient builds a provider around an existing chat
// client. Used by tests.
func NewOpenAIProviderWithClient(chat ChatClient, model string) *OpenAIProvider {
	return &OpenAIProvider{chat: chat, model: model}
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, system string, history []models.ChatMessage, user string, sampling models.SamplingParams) (*Result, error) {
	req := p.buildRequest(system, history, user, sampling)
	resp, err := p.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	return &Result{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		StopReason:   string(resp.Choices[0].FinishReason),
	}, nil
}

// GenerateStructured implements Provider. JSON mode pins the response to a
// single JSON object; the schema itself travels as an instruction because
// the caller validates the bytes anyway.
func (p *OpenAIProvider) GenerateStructured(ctx context.Context, schema json.RawMessage, system string, history []models.ChatMessage, user string, sampling models.SamplingParams) (json.RawMessage, error) {
	req := p.buildRequest(system, history, user, sampling)
	req.ResponseFormat = &openai.ChatCompletionResponseFormat{
		Type: openai.ChatCompletionResponseFormatTypeJSONObject,
	}
	req.Messages = append(req.Messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: "Respond with a single JSON object conforming to this JSON Schema:\n" + string(schema),
	})

	resp, err := p.chat.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	return json.RawMessage(resp.Choices[0].Message.Content), nil
}

func (p *OpenAIProvider) buildRequest(system string, history []models.ChatMessage, user string, sampling models.SamplingParams) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	// History roles are exactly "user" and "assistant", matching the wire
	// roles of the Chat Completions API.
	for _, m := range history {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	if user != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})
	}

	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    messages,
		Temperature: float32(sampling.Temperature),
		MaxTokens:   sampling.MaxTokens,
	}
	if sampling.TopP > 0 && sampling.TopP < 1 {
		req.TopP = float32(sampling.TopP)
	}
	return req
}
