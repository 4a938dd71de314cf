package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/arbor-coach/arbor/pkg/models"
)

const templateColumns = `template_id, template_code, interaction_code, version, blob_ref,
	required_parameters, is_active, created_at, updated_at`

// PostgresTemplateStore reads template metadata. Content lives in the blob
// store; this table only carries the pointer plus render requirements.
type PostgresTemplateStore struct {
	db *sql.DB
}

// NewPostgresTemplateStore creates a template store over the shared pool.
func NewPostgresTemplateStore(db *sql.DB) *PostgresTemplateStore {
	return &PostgresTemplateStore{db: db}
}

// Get returns the template by id.
func (s *PostgresTemplateStore) Get(ctx context.Context, id string) (*models.Template, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+templateColumns+` FROM templates WHERE template_id = $1`, id)
	tpl, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	return tpl, nil
}

// Put upserts a template by ID.
func (s *PostgresTemplateStore) Put(ctx context.Context, tpl *models.Template) error {
	paramsJSON, err := json.Marshal(tpl.RequiredParameters)
	if err != nil {
		return fmt.Errorf("marshal required parameters: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (template_id, template_code, interaction_code, version, blob_ref,
			required_parameters, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (template_id) DO UPDATE SET
			template_code = EXCLUDED.template_code,
			interaction_code = EXCLUDED.interaction_code,
			version = EXCLUDED.version,
			blob_ref = EXCLUDED.blob_ref,
			required_parameters = EXCLUDED.required_parameters,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		tpl.ID, tpl.TemplateCode, tpl.InteractionCode, tpl.Version, tpl.BlobRef,
		paramsJSON, tpl.IsActive, tpl.CreatedAt, tpl.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put template: %w", err)
	}
	return nil
}

func scanTemplate(scanner rowScanner) (*models.Template, error) {
	var (
		tpl         models.Template
		paramsBytes []byte
	)
	if err := scanner.Scan(
		&tpl.ID, &tpl.TemplateCode, &tpl.InteractionCode, &tpl.Version, &tpl.BlobRef,
		&paramsBytes, &tpl.IsActive, &tpl.CreatedAt, &tpl.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(paramsBytes) > 0 {
		if err := json.Unmarshal(paramsBytes, &tpl.RequiredParameters); err != nil {
			return nil, fmt.Errorf("unmarshal required parameters: %w", err)
		}
	}
	return &tpl, nil
}
