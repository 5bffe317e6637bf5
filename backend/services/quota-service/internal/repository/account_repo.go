package repository

import (
	"context"
	"database/sql"
	"errors"

	"voicecoach/backend/services/quota-service/internal/models"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("repository: not found")

// ErrBalanceTooLow is returned when a conditional deduction matches no row
// even though the account exists.
var ErrBalanceTooLow = errors.New("repository: balance too low")

// AccountRepository persists user balances.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository returns repository.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetByUserID loads the account for a user.
func (r *AccountRepository) GetByUserID(ctx context.Context, userID int64) (*models.Account, error) {
	const query = `
		SELECT id, user_id, remaining_quota, total_quota, created_at, updated_at
		FROM user_accounts
		WHERE user_id = $1
	`
	var acc models.Account
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&acc.ID,
		&acc.UserID,
		&acc.RemainingQuota,
		&acc.TotalQuota,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

// Deduct subtracts amount from the balance only when enough points remain.
// The guarded UPDATE keeps concurrent deductions from overdrawing the account.
func (r *AccountRepository) Deduct(ctx context.Context, userID, amount int64) (int64, error) {
	const query = `
		UPDATE user_accounts
		SET remaining_quota = remaining_quota - $2, updated_at = NOW()
		WHERE user_id = $1 AND remaining_quota >= $2
		RETURNING remaining_quota
	`
	var remaining int64
	err := r.db.QueryRowContext(ctx, query, userID, amount).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := r.GetByUserID(ctx, userID); getErr != nil {
			return 0, getErr
		}
		return 0, ErrBalanceTooLow
	}
	if err != nil {
		return 0, err
	}
	return remaining, nil
}

// Credit adds amount back to the balance.
func (r *AccountRepository) Credit(ctx context.Context, userID, amount int64) (int64, error) {
	const query = `
		UPDATE user_accounts
		SET remaining_quota = remaining_quota + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING remaining_quota
	`
	var remaining int64
	err := r.db.QueryRowContext(ctx, query, userID, amount).Scan(&remaining)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}
	return remaining, nil
}
