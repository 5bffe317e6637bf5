package repository

import (
	"context"
	"database/sql"

	"voicecoach/backend/services/voice-service/internal/models"
)

// CallRepository persists finished voice call sessions.
type CallRepository struct {
	db *sql.DB
}

// NewCallRepository returns repository.
func NewCallRepository(db *sql.DB) *CallRepository {
	return &CallRepository{db: db}
}

// Create inserts a finished call record.
func (r *CallRepository) Create(ctx context.Context, call *models.Call) error {
	const query = `
		INSERT INTO voice_call_sessions
			(session_id, user_id, feature_key, coach_key, status, duration_seconds,
			 billed_minutes, total_cost, refunded_points, started_at, ended_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		call.SessionID,
		call.UserID,
		call.FeatureKey,
		call.CoachKey,
		call.Status,
		call.DurationSeconds,
		call.BilledMinutes,
		call.TotalCost,
		call.RefundedPoints,
		call.StartedAt,
		call.EndedAt,
	).Scan(&call.ID, &call.CreatedAt)
}

// ListByUser returns latest calls for user.
func (r *CallRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Call, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, session_id, user_id, feature_key, coach_key, status, duration_seconds,
		       billed_minutes, total_cost, refunded_points, started_at, ended_at, created_at
		FROM voice_call_sessions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var calls []models.Call
	for rows.Next() {
		var call models.Call
		if err := rows.Scan(
			&call.ID,
			&call.SessionID,
			&call.UserID,
			&call.FeatureKey,
			&call.CoachKey,
			&call.Status,
			&call.DurationSeconds,
			&call.BilledMinutes,
			&call.TotalCost,
			&call.RefundedPoints,
			&call.StartedAt,
			&call.EndedAt,
			&call.CreatedAt,
		); err != nil {
			return nil, err
		}
		calls = append(calls, call)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return calls, nil
}
