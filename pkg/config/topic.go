package config

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/arbor-coach/arbor/pkg/models"
)

// TopicYAML is the YAML shape of a topic definition. JSON Schemas are
// authored as nested YAML maps and converted to raw JSON during loading.
type TopicYAML struct {
	Kind                   models.JobKind    `yaml:"kind"`
	ModelCode              string            `yaml:"model_code,omitempty"`
	Temperature            *float64          `yaml:"temperature,omitempty"`
	MaxTokens              int               `yaml:"max_tokens,omitempty"`
	TopP                   *float64          `yaml:"top_p,omitempty"`
	PromptRefs             models.PromptRefs `yaml:"prompt_refs"`
	ParamSchema            map[string]any    `yaml:"param_schema,omitempty"`
	ResultSchema           map[string]any    `yaml:"result_schema,omitempty"`
	MaxTurns               int               `yaml:"max_turns,omitempty"`
	CompletionMarker       string            `yaml:"completion_marker,omitempty"`
	AggregationPeriodCount int               `yaml:"aggregation_period_count,omitempty"`
	Disabled               bool              `yaml:"disabled,omitempty"`
}

// toTopic converts the YAML shape into the domain model, applying defaults
// for omitted sampling fields.
func (y *TopicYAML) toTopic(id string, defaults *Defaults) (*models.Topic, error) {
	t := &models.Topic{
		ID:                     id,
		Kind:                   y.Kind,
		ModelCode:              y.ModelCode,
		Temperature:            DefaultTemperature,
		MaxTokens:              y.MaxTokens,
		TopP:                   DefaultTopP,
		PromptRefs:             y.PromptRefs,
		MaxTurns:               y.MaxTurns,
		CompletionMarker:       y.CompletionMarker,
		AggregationPeriodCount: y.AggregationPeriodCount,
		IsActive:               !y.Disabled,
	}
	if y.Temperature != nil {
		t.Temperature = *y.Temperature
	}
	if y.TopP != nil {
		t.TopP = *y.TopP
	}
	if t.MaxTokens == 0 {
		t.MaxTokens = DefaultMaxTokens
	}
	if t.ModelCode == "" && defaults != nil {
		t.ModelCode = defaults.ModelCode
	}

	var err error
	if t.ParamSchema, err = schemaToJSON(y.ParamSchema); err != nil {
		return nil, fmt.Errorf("param_schema: %w", err)
	}
	if t.ResultSchema, err = schemaToJSON(y.ResultSchema); err != nil {
		return nil, fmt.Errorf("result_schema: %w", err)
	}
	return t, nil
}

// schemaToJSON renders a YAML-authored schema map as raw JSON. Nil maps stay
// nil so "no schema" survives the conversion.
func schemaToJSON(m map[string]any) (json.RawMessage, error) {
	if m == nil {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// TopicRegistry stores topic definitions in memory with thread-safe access
type TopicRegistry struct {
	topics map[string]*models.Topic
	mu     sync.RWMutex
}

// NewTopicRegistry creates a new topic registry
func NewTopicRegistry(topics map[string]*models.Topic) *TopicRegistry {
	// Defensive copy to prevent external mutation
	copied := make(map[string]*models.Topic, len(topics))
	for k, v := range topics {
		copied[k] = v
	}
	return &TopicRegistry{
		topics: copied,
	}
}

// Get retrieves a topic by ID (thread-safe). Inactive topics are
// still returned; callers gate on IsActive where it matters.
func (r *TopicRegistry) Get(topicID string) (*models.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	topic, exists := r.topics[topicID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTopicNotFound, topicID)
	}
	return topic, nil
}

// GetAll returns all topic definitions (thread-safe, returns copy)
func (r *TopicRegistry) GetAll() map[string]*models.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*models.Topic, len(r.topics))
	for k, v := range r.topics {
		result[k] = v
	}
	return result
}

// Has checks if a topic exists in the registry (thread-safe)
func (r *TopicRegistry) Has(topicID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.topics[topicID]
	return exists
}

// Len returns the number of topics in the registry (thread-safe)
func (r *TopicRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics)
}

// IDs returns a sorted list of all topic IDs.
func (r *TopicRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.topics))
	for id := range r.topics {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
