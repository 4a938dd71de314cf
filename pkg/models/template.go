package models

import "time"

// Template is prompt metadata; the prompt text itself lives in the blob
// store at BlobRef. Owned by the admin subsystem; read through caches.
type Template struct {
	ID              string `json:"template_id"`
	TemplateCode    string `json:"template_code"`
	InteractionCode string `json:"interaction_code"`
	Version         int    `json:"version"`
	BlobRef         string `json:"blob_ref"`

	// RequiredParameters must all be present in the render parameter map;
	// a missing one fails the render before any provider call.
	RequiredParameters []string `json:"required_parameters,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
