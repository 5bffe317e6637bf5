package models

// FeatureCost is the configured per-use price of a feature.
type FeatureCost struct {
	FeatureKey string `json:"feature_key"`
	Cost       int64  `json:"cost"`
	IsActive   bool   `json:"is_active"`
}
