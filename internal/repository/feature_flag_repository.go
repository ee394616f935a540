package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/okulsys/attendance-api/internal/models"
)

// FeatureFlagRepository persists policy flags keyed by name. Values are
// stored as JSON so boolean and numeric flags share one table.
type FeatureFlagRepository struct {
	db *sqlx.DB
}

// NewFeatureFlagRepository constructs the repository.
func NewFeatureFlagRepository(db *sqlx.DB) *FeatureFlagRepository {
	return &FeatureFlagRepository{db: db}
}

// Get fetches one flag. Callers receive sql.ErrNoRows untouched so they
// can distinguish an absent flag from a storage failure.
func (r *FeatureFlagRepository) Get(ctx context.Context, key string) (*models.FeatureFlag, error) {
	const query = `SELECT key, value_json, updated_by, updated_at FROM feature_flags WHERE key = $1 LIMIT 1`
	var flag models.FeatureFlag
	if err := r.db.GetContext(ctx, &flag, query, key); err != nil {
		return nil, err
	}
	return &flag, nil
}

// List returns all stored flags ordered by key.
func (r *FeatureFlagRepository) List(ctx context.Context) ([]models.FeatureFlag, error) {
	const query = `SELECT key, value_json, updated_by, updated_at FROM feature_flags ORDER BY key ASC`
	var flags []models.FeatureFlag
	if err := r.db.SelectContext(ctx, &flags, query); err != nil {
		return nil, fmt.Errorf("list feature flags: %w", err)
	}
	return flags, nil
}

// Upsert writes a flag value, replacing any previous value for the key.
func (r *FeatureFlagRepository) Upsert(ctx context.Context, flag *models.FeatureFlag) error {
	if flag.UpdatedAt.IsZero() {
		flag.UpdatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO feature_flags (key, value_json, updated_by, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (key)
DO UPDATE SET value_json = EXCLUDED.value_json, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, flag.Key, flag.ValueJSON, flag.UpdatedBy, flag.UpdatedAt); err != nil {
		return fmt.Errorf("upsert feature flag: %w", err)
	}
	return nil
}
