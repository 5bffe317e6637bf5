package models

import "time"

// Usage record types.
const (
	RecordTypeDeduct = "deduct"
	RecordTypeRefund = "refund"
)

// UsageRecord is a single balance change. SessionID and Minute form the
// idempotency key for metered deductions; both are empty for one-off charges.
type UsageRecord struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	RecordType string    `json:"record_type"`
	FeatureKey string    `json:"feature_key"`
	Source     string    `json:"source"`
	Amount     int64     `json:"amount"`
	SessionID  string    `json:"session_id,omitempty"`
	Minute     int       `json:"minute,omitempty"`
	DeductType string    `json:"deduct_type,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// DailyUsage aggregates one day of deductions and refunds.
type DailyUsage struct {
	Day      string `json:"day"`
	Deducted int64  `json:"deducted"`
	Refunded int64  `json:"refunded"`
}
