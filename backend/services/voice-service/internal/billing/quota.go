package billing

import (
	"context"
	"errors"
)

// Deduction type markers carried in quota metadata.
const (
	DeductTypePreDeduction = "pre_deduction"
	DeductTypeBilling      = "billing"
)

// Refund reason tags.
const (
	ReasonCallTooShort     = "call_too_short_under_10s"
	ReasonCallShort        = "call_short_10_to_30s"
	ReasonCallNeverStarted = "call_never_started"
	ReasonConnectionFailed = "connection_failed"
)

// ErrInsufficientQuota is returned by a QuotaClient when a deduction would
// overdraw the user's balance.
var ErrInsufficientQuota = errors.New("billing: insufficient quota")

// ErrDeductionInFlight is returned when another deduction for the same session
// has not resolved yet. The caller retries on its next tick.
var ErrDeductionInFlight = errors.New("billing: deduction already in flight")

// DeductRequest describes a single atomic charge against the quota service.
// SessionID plus Minute form the idempotency key on the service side.
type DeductRequest struct {
	UserID     int64  `json:"user_id"`
	FeatureKey string `json:"feature_key"`
	Source     string `json:"source"`
	Amount     int64  `json:"amount"`
	SessionID  string `json:"session_id"`
	Minute     int    `json:"minute"`
	DeductType string `json:"deduct_type"`
}

// DeductResult is the successful outcome of a deduction.
type DeductResult struct {
	RemainingQuota int64 `json:"remaining_quota"`
	Skipped        bool  `json:"skipped"`
}

// RefundRequest describes a credit back to the user's balance.
type RefundRequest struct {
	UserID     int64  `json:"user_id"`
	FeatureKey string `json:"feature_key"`
	Amount     int64  `json:"amount"`
	SessionID  string `json:"session_id"`
	Reason     string `json:"reason"`
}

// RefundResult is the successful outcome of a refund.
type RefundResult struct {
	RefundedAmount int64 `json:"refunded_amount"`
	RemainingQuota int64 `json:"remaining_quota"`
}

// QuotaClient is the external quota ledger. Both calls are single atomic
// remote operations; the service owns the balance record's consistency.
type QuotaClient interface {
	Deduct(ctx context.Context, req DeductRequest) (*DeductResult, error)
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// Events receives user-facing billing notifications. Implementations must not
// block; they are invoked synchronously after state updates.
type Events interface {
	BalanceUpdated(remaining int64)
	RefundIssued(amount, remaining int64)
	InsufficientBalance()
}

// NopEvents discards all notifications.
type NopEvents struct{}

func (NopEvents) BalanceUpdated(int64)      {}
func (NopEvents) RefundIssued(int64, int64) {}
func (NopEvents) InsufficientBalance()      {}
