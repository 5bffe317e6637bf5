package models

import "time"

// Account holds a user's point balance.
type Account struct {
	ID             int64     `json:"id"`
	UserID         int64     `json:"user_id"`
	RemainingQuota int64     `json:"remaining_quota"`
	TotalQuota     int64     `json:"total_quota"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
