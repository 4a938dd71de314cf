// Package providers resolves model codes to vendor completion clients.
// Each provider wraps one SDK behind a narrow interface so workers stay
// vendor-agnostic: they hand over a system prompt, the session history,
// the current user message, and sampling knobs, and get text (or raw
// JSON for structured extraction) back. The core never depends on
// streaming; capability flags on registrations are informational.
package providers

import (
	"context"
	"encoding/json"

	"github.com/arbor-coach/arbor/pkg/models"
)

// Provider generates completions for one configured model.
type Provider interface {
	// Generate produces a plain-text completion from the system prompt,
	// prior conversation turns, and the current user message.
	Generate(ctx context.Context, system string, history []models.ChatMessage, user string, sampling models.SamplingParams) (*Result, error)

	// GenerateStructured produces raw JSON intended to conform to schema.
	// Providers only steer the model toward JSON output; callers parse and
	// validate the bytes and record failures themselves.
	GenerateStructured(ctx context.Context, schema json.RawMessage, system string, history []models.ChatMessage, user string, sampling models.SamplingParams) (json.RawMessage, error)
}

// Result is a completed text generation with token accounting.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	StopReason   string
}
