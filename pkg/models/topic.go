package models

import "encoding/json"

// PromptRefs points at prompt text in the blob store, one ref per prompt
// role. Empty refs mean the topic has no prompt for that role.
type PromptRefs struct {
	System    string `json:"system,omitempty" yaml:"system,omitempty"`
	User      string `json:"user,omitempty" yaml:"user,omitempty"`
	Assistant string `json:"assistant,omitempty" yaml:"assistant,omitempty"`
	Function  string `json:"function,omitempty" yaml:"function,omitempty"`
}

// Topic is the execution blueprint for an interaction: which model, which
// prompts, which parameters, and what terminal-extraction schema. Topics are
// loaded into a static registry at startup; tier configurations override
// model and sampling fields per tenant tier at resolution time.
type Topic struct {
	ID          string  `json:"topic_id" yaml:"id"`
	Kind        JobKind `json:"kind" yaml:"kind"`
	ModelCode   string  `json:"model_code" yaml:"model_code"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
	TopP        float64 `json:"top_p" yaml:"top_p"`

	PromptRefs PromptRefs `json:"prompt_refs" yaml:"prompt_refs"`

	// ParamSchema is a JSON Schema for the job input map. Nil means any input.
	ParamSchema json.RawMessage `json:"param_schema,omitempty" yaml:"-"`
	// ResultSchema drives structured extraction of final messages. Nil means
	// no extraction.
	ResultSchema json.RawMessage `json:"result_schema,omitempty" yaml:"-"`

	// MaxTurns seeds new sessions for this topic. 0 = unlimited.
	MaxTurns int `json:"max_turns" yaml:"max_turns"`
	// CompletionMarker, when non-empty and present in a model reply, marks
	// the reply as the final turn regardless of the turn count.
	CompletionMarker string `json:"completion_marker,omitempty" yaml:"completion_marker"`

	// AggregationPeriodCount is pass-through for reporting callers; the core
	// does not interpret it.
	AggregationPeriodCount int  `json:"aggregation_period_count,omitempty" yaml:"aggregation_period_count"`
	IsActive               bool `json:"is_active" yaml:"is_active"`
}

// SamplingParams are the model invocation knobs after tier overrides apply.
type SamplingParams struct {
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	TopP        float64 `json:"top_p"`
}

// Sampling returns the topic's default sampling parameters.
func (t *Topic) Sampling() SamplingParams {
	return SamplingParams{Temperature: t.Temperature, MaxTokens: t.MaxTokens, TopP: t.TopP}
}
