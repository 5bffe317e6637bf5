package repository

import (
	"context"
	"database/sql"
	"errors"

	"voicecoach/backend/services/quota-service/internal/models"
)

// FeatureRepository reads per-feature cost configuration.
type FeatureRepository struct {
	db *sql.DB
}

// NewFeatureRepository returns repository.
func NewFeatureRepository(db *sql.DB) *FeatureRepository {
	return &FeatureRepository{db: db}
}

// CostByKey loads the configured cost for a feature key.
func (r *FeatureRepository) CostByKey(ctx context.Context, featureKey string) (*models.FeatureCost, error) {
	const query = `
		SELECT feature_key, cost, is_active
		FROM feature_costs
		WHERE feature_key = $1
	`
	var fc models.FeatureCost
	err := r.db.QueryRowContext(ctx, query, featureKey).Scan(&fc.FeatureKey, &fc.Cost, &fc.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fc, nil
}
