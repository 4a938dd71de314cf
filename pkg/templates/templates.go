// Package templates renders prompt templates. Metadata comes from the
// template store, content from the blob store, and rendered output is
// cached per parameter set so repeated jobs over the same prompt skip the
// whole pipeline. Admin mutations evict by template id; anything staler
// ages out with the cache TTLs.
package templates

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"text/template"
	"time"

	"github.com/arbor-coach/arbor/pkg/blob"
	"github.com/arbor-coach/arbor/pkg/cache"
	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/storage"
)

// Cache TTLs. Rendered output turns over fastest because it also absorbs
// metadata and content staleness.
const (
	MetadataTTL = 30 * time.Minute
	ContentTTL  = 30 * time.Minute
	RenderedTTL = 5 * time.Minute
)

// RenderError is a template failure ahead of the provider call: bad syntax
// or a missing required parameter. Render errors classify as
// PARAMETER_VALIDATION at the job boundary; missing templates or blobs
// propagate as not-found instead.
type RenderError struct {
	TemplateID string
	Reason     string
	Err        error
}

func (e *RenderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("render template %s: %s: %v", e.TemplateID, e.Reason, e.Err)
	}
	return fmt.Sprintf("render template %s: %s", e.TemplateID, e.Reason)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Service resolves and renders templates through its three caches.
type Service struct {
	store    storage.TemplateStore
	blobs    blob.Store
	meta     cache.Cache[*models.Template]
	content  cache.Cache[string]
	rendered cache.Cache[string]
	logger   *slog.Logger
}

// NewService creates a template service with in-process caches.
func NewService(store storage.TemplateStore, blobs blob.Store) *Service {
	return NewServiceWithCaches(store, blobs,
		cache.NewMemory[*models.Template]("template_metadata", MetadataTTL),
		cache.NewMemory[string]("template_content", ContentTTL),
		cache.NewMemory[string]("template_rendered", RenderedTTL),
	)
}

// NewServiceWithCaches creates a template service over caller-provided
// caches, for deployments that share them through Redis.
func NewServiceWithCaches(store storage.TemplateStore, blobs blob.Store, meta cache.Cache[*models.Template], content, rendered cache.Cache[string]) *Service {
	return &Service{
		store:    store,
		blobs:    blobs,
		meta:     meta,
		content:  content,
		rendered: rendered,
		logger:   slog.Default().With("component", "templates"),
	}
}

// Get returns template metadata, cached.
func (s *Service) Get(ctx context.Context, templateID string) (*models.Template, error) {
	if tpl, ok := s.meta.Get(ctx, templateID); ok {
		return tpl, nil
	}
	tpl, err := s.store.Get(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("template %s: %w", templateID, err)
	}
	s.meta.Set(ctx, templateID, tpl, MetadataTTL)
	return tpl, nil
}

// Content returns the prompt text at blobRef, cached.
func (s *Service) Content(ctx context.Context, blobRef string) (string, error) {
	if text, ok := s.content.Get(ctx, blobRef); ok {
		return text, nil
	}
	text, err := s.blobs.Get(ctx, blobRef)
	if err != nil {
		return "", err
	}
	s.content.Set(ctx, blobRef, text, ContentTTL)
	return text, nil
}

// Render resolves the template and substitutes params into its content.
// Required parameters must all be present; optional ones may be guarded
// with {{if .name}} blocks in the template text.
func (s *Service) Render(ctx context.Context, templateID string, params map[string]any) (string, error) {
	key := renderKey(templateID, params)
	if out, ok := s.rendered.Get(ctx, key); ok {
		return out, nil
	}

	tpl, err := s.Get(ctx, templateID)
	if err != nil {
		return "", err
	}
	if missing := missingParams(tpl.RequiredParameters, params); len(missing) > 0 {
		return "", &RenderError{TemplateID: templateID, Reason: fmt.Sprintf("missing required parameters %v", missing)}
	}

	text, err := s.Content(ctx, tpl.BlobRef)
	if err != nil {
		return "", fmt.Errorf("template %s content: %w", templateID, err)
	}

	out, err := execute(templateID, text, params)
	if err != nil {
		return "", err
	}
	s.rendered.Set(ctx, key, out, RenderedTTL)
	return out, nil
}

// RenderRef renders prompt content addressed directly by blob ref, for
// prompts that live outside the template table (topic system prompts).
// There is no metadata row, so no required-parameter list applies; guard
// optional parameters with {{if .name}} blocks.
func (s *Service) RenderRef(ctx context.Context, blobRef string, params map[string]any) (string, error) {
	key := renderKey("ref:"+blobRef, params)
	if out, ok := s.rendered.Get(ctx, key); ok {
		return out, nil
	}

	text, err := s.Content(ctx, blobRef)
	if err != nil {
		return "", err
	}

	out, err := execute(blobRef, text, params)
	if err != nil {
		return "", err
	}
	s.rendered.Set(ctx, key, out, RenderedTTL)
	return out, nil
}

// execute parses and runs one template text. missingkey=zero keeps
// conditional blocks over optional parameters working; required parameters
// are enforced by the caller where a metadata row declares them.
func execute(id, text string, params map[string]any) (string, error) {
	parsed, err := template.New(id).Option("missingkey=zero").Parse(text)
	if err != nil {
		return "", &RenderError{TemplateID: id, Reason: "syntax error", Err: err}
	}
	var buf bytes.Buffer
	if err := parsed.Execute(&buf, params); err != nil {
		return "", &RenderError{TemplateID: id, Reason: "execution failed", Err: err}
	}
	return buf.String(), nil
}

// Invalidate evicts the metadata entry for a template. Content and rendered
// entries age out with their TTLs; content keys are blob refs, which change
// with the template version anyway.
func (s *Service) Invalidate(ctx context.Context, templateID string) {
	s.meta.Delete(ctx, templateID)
	s.logger.Info("Template cache invalidated", "template_id", templateID)
}

func missingParams(required []string, params map[string]any) []string {
	var missing []string
	for _, name := range required {
		if _, ok := params[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// renderKey hashes the parameter map into the rendered-output cache key.
// json.Marshal sorts map keys, so equal maps hash equally.
func renderKey(templateID string, params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		raw = []byte(fmt.Sprintf("%v", params))
	}
	sum := sha256.Sum256(raw)
	return templateID + ":" + hex.EncodeToString(sum[:])
}
