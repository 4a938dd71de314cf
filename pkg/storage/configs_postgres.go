package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arbor-coach/arbor/pkg/models"
)

const configColumns = `config_id, interaction_code, tier, model_code, template_id,
	temperature, max_tokens, is_active, effective_from, effective_until,
	created_at, updated_at`

// PostgresConfigStore reads tier configuration records. The admin subsystem
// owns writes; Put exists for it and for seeding tests.
type PostgresConfigStore struct {
	db *sql.DB
}

// NewPostgresConfigStore creates a config store over the shared pool.
func NewPostgresConfigStore(db *sql.DB) *PostgresConfigStore {
	return &PostgresConfigStore{db: db}
}

// GetActive returns the active record for (interactionCode, tier) effective
// at now. The tier column stores the empty string for the default record, so
// the partial unique index covers both shapes with one key.
func (s *PostgresConfigStore) GetActive(ctx context.Context, interactionCode string, tier models.Tier, now time.Time) (*models.TierConfig, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+configColumns+` FROM tier_configs
		WHERE interaction_code = $1 AND tier = $2 AND is_active
			AND effective_from <= $3
			AND (effective_until IS NULL OR effective_until > $3)
		ORDER BY effective_from DESC
		LIMIT 1`,
		interactionCode, string(tier), now,
	)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active config: %w", err)
	}
	return cfg, nil
}

// Put upserts a record by ID.
func (s *PostgresConfigStore) Put(ctx context.Context, cfg *models.TierConfig) error {
	var temperature sql.NullFloat64
	if cfg.Temperature != nil {
		temperature = sql.NullFloat64{Float64: *cfg.Temperature, Valid: true}
	}
	var maxTokens sql.NullInt64
	if cfg.MaxTokens != nil {
		maxTokens = sql.NullInt64{Int64: int64(*cfg.MaxTokens), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier_configs (config_id, interaction_code, tier, model_code, template_id,
			temperature, max_tokens, is_active, effective_from, effective_until,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (config_id) DO UPDATE SET
			interaction_code = EXCLUDED.interaction_code,
			tier = EXCLUDED.tier,
			model_code = EXCLUDED.model_code,
			template_id = EXCLUDED.template_id,
			temperature = EXCLUDED.temperature,
			max_tokens = EXCLUDED.max_tokens,
			is_active = EXCLUDED.is_active,
			effective_from = EXCLUDED.effective_from,
			effective_until = EXCLUDED.effective_until,
			updated_at = EXCLUDED.updated_at`,
		cfg.ID, cfg.InteractionCode, string(cfg.Tier), cfg.ModelCode, cfg.TemplateID,
		temperature, maxTokens, cfg.IsActive, cfg.EffectiveFrom, nullTime(cfg.EffectiveUntil),
		cfg.CreatedAt, cfg.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("put config: %w", err)
	}
	return nil
}

func scanConfig(scanner rowScanner) (*models.TierConfig, error) {
	var (
		cfg            models.TierConfig
		tier           string
		temperature    sql.NullFloat64
		maxTokens      sql.NullInt64
		effectiveUntil sql.NullTime
	)
	if err := scanner.Scan(
		&cfg.ID, &cfg.InteractionCode, &tier, &cfg.ModelCode, &cfg.TemplateID,
		&temperature, &maxTokens, &cfg.IsActive, &cfg.EffectiveFrom, &effectiveUntil,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	); err != nil {
		return nil, err
	}
	cfg.Tier = models.Tier(tier)
	if temperature.Valid {
		t := temperature.Float64
		cfg.Temperature = &t
	}
	if maxTokens.Valid {
		n := int(maxTokens.Int64)
		cfg.MaxTokens = &n
	}
	if effectiveUntil.Valid {
		t := effectiveUntil.Time
		cfg.EffectiveUntil = &t
	}
	return &cfg, nil
}
