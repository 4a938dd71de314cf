// Package blob stores prompt template text referenced by blob refs. Template
// metadata lives in the relational store; the text itself lives here.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound indicates no content exists at the requested ref.
var ErrNotFound = errors.New("blob not found")

// Store is the prompt-text storage capability. Refs are opaque slash-separated
// paths like "prompts/career-coaching/system.tmpl".
type Store interface {
	// Get returns the content at ref, or ErrNotFound.
	Get(ctx context.Context, ref string) (string, error)

	// Put writes content at ref, overwriting any previous version.
	Put(ctx context.Context, ref string, content string) error
}
