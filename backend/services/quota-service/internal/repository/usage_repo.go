package repository

import (
	"context"
	"database/sql"

	"voicecoach/backend/services/quota-service/internal/models"
)

// UsageRepository persists balance change records.
type UsageRepository struct {
	db *sql.DB
}

// NewUsageRepository returns repository.
func NewUsageRepository(db *sql.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// Create inserts a usage record.
func (r *UsageRepository) Create(ctx context.Context, rec *models.UsageRecord) error {
	const query = `
		INSERT INTO usage_records (user_id, record_type, feature_key, source, amount, session_id, minute, deduct_type, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, NULLIF($8, ''), NULLIF($9, ''), NOW())
		RETURNING id, created_at
	`
	return r.db.QueryRowContext(ctx, query,
		rec.UserID,
		rec.RecordType,
		rec.FeatureKey,
		rec.Source,
		rec.Amount,
		rec.SessionID,
		rec.Minute,
		rec.DeductType,
		rec.Reason,
	).Scan(&rec.ID, &rec.CreatedAt)
}

// HasMinuteRecord reports whether a deduction for this session minute already
// exists. Used to drop duplicate charges from retried billing ticks.
func (r *UsageRepository) HasMinuteRecord(ctx context.Context, userID int64, sessionID string, minute int) (bool, error) {
	const query = `
		SELECT EXISTS (
			SELECT 1 FROM usage_records
			WHERE user_id = $1 AND session_id = $2 AND minute = $3 AND record_type = $4
		)
	`
	var exists bool
	err := r.db.QueryRowContext(ctx, query, userID, sessionID, minute, models.RecordTypeDeduct).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// SessionNetDeducted returns deductions minus refunds recorded for a session.
func (r *UsageRepository) SessionNetDeducted(ctx context.Context, userID int64, sessionID string) (int64, error) {
	const query = `
		SELECT COALESCE(SUM(CASE WHEN record_type = $3 THEN amount ELSE -amount END), 0)
		FROM usage_records
		WHERE user_id = $1 AND session_id = $2
	`
	var net int64
	err := r.db.QueryRowContext(ctx, query, userID, sessionID, models.RecordTypeDeduct).Scan(&net)
	if err != nil {
		return 0, err
	}
	return net, nil
}

// ListByUser returns latest records for the user.
func (r *UsageRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.UsageRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
		SELECT id, user_id, record_type, feature_key, source, amount,
			COALESCE(session_id, ''), minute, COALESCE(deduct_type, ''), COALESCE(reason, ''), created_at
		FROM usage_records
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.RecordType,
			&rec.FeatureKey,
			&rec.Source,
			&rec.Amount,
			&rec.SessionID,
			&rec.Minute,
			&rec.DeductType,
			&rec.Reason,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// DailySummary aggregates deductions and refunds per day over the last days.
func (r *UsageRepository) DailySummary(ctx context.Context, userID int64, days int) ([]models.DailyUsage, error) {
	if days <= 0 {
		days = 7
	}
	const query = `
		SELECT TO_CHAR(created_at::date, 'YYYY-MM-DD') AS day,
			COALESCE(SUM(amount) FILTER (WHERE record_type = $3), 0),
			COALESCE(SUM(amount) FILTER (WHERE record_type = $4), 0)
		FROM usage_records
		WHERE user_id = $1 AND created_at >= NOW() - ($2 || ' days')::interval
		GROUP BY day
		ORDER BY day DESC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, days, models.RecordTypeDeduct, models.RecordTypeRefund)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summary []models.DailyUsage
	for rows.Next() {
		var d models.DailyUsage
		if err := rows.Scan(&d.Day, &d.Deducted, &d.Refunded); err != nil {
			return nil, err
		}
		summary = append(summary, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return summary, nil
}
