package api

// SubmitMessageRequest is the body for POST /api/v1/messages.
type SubmitMessageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SubmitAnalysisRequest is the body for POST /api/v1/analyses.
type SubmitAnalysisRequest struct {
	TopicID string         `json:"topic_id"`
	Params  map[string]any `json:"params"`
}

// StartSessionRequest is the body for POST /api/v1/sessions.
type StartSessionRequest struct {
	TopicID string `json:"topic_id"`
}

// InvalidateCacheRequest is the body for POST /api/v1/admin/cache/invalidations.
// At least one target must be set.
type InvalidateCacheRequest struct {
	InteractionCode string `json:"interaction_code,omitempty"`
	Tier            string `json:"tier,omitempty"`
	TemplateID      string `json:"template_id,omitempty"`
}
