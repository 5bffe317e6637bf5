package models

import "time"

// Call is a finished voice call session as persisted for history and audit.
type Call struct {
	ID              int64     `json:"id"`
	SessionID       string    `json:"session_id"`
	UserID          int64     `json:"user_id"`
	FeatureKey      string    `json:"feature_key"`
	CoachKey        string    `json:"coach_key"`
	Status          string    `json:"status"`
	DurationSeconds int       `json:"duration_seconds"`
	BilledMinutes   int       `json:"billed_minutes"`
	TotalCost       int64     `json:"total_cost"`
	RefundedPoints  int64     `json:"refunded_points"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	CreatedAt       time.Time `json:"created_at"`
}
