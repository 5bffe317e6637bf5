package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"voicecoach/backend/services/quota-service/internal/models"
	"voicecoach/backend/services/quota-service/internal/repository"
)

// Service errors mapped to HTTP statuses by the handlers.
var (
	ErrAccountNotFound       = errors.New("quota: account not found")
	ErrInsufficientQuota     = errors.New("quota: insufficient quota")
	ErrInvalidAmount         = errors.New("quota: amount must be positive")
	ErrFeatureRequired       = errors.New("quota: feature_key or amount required")
	ErrRefundExceedsDeducted = errors.New("quota: refund exceeds session deductions")
)

// AccountStore is the balance persistence dependency.
type AccountStore interface {
	GetByUserID(ctx context.Context, userID int64) (*models.Account, error)
	Deduct(ctx context.Context, userID, amount int64) (int64, error)
	Credit(ctx context.Context, userID, amount int64) (int64, error)
}

// UsageStore records balance changes and answers idempotency lookups.
type UsageStore interface {
	Create(ctx context.Context, rec *models.UsageRecord) error
	HasMinuteRecord(ctx context.Context, userID int64, sessionID string, minute int) (bool, error)
	SessionNetDeducted(ctx context.Context, userID int64, sessionID string) (int64, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.UsageRecord, error)
	DailySummary(ctx context.Context, userID int64, days int) ([]models.DailyUsage, error)
}

// FeatureStore resolves configured feature costs.
type FeatureStore interface {
	CostByKey(ctx context.Context, featureKey string) (*models.FeatureCost, error)
}

// QuotaService owns all balance mutations.
type QuotaService struct {
	accounts AccountStore
	usage    UsageStore
	features FeatureStore
	logger   *zap.Logger
}

// NewQuotaService builds service.
func NewQuotaService(accounts AccountStore, usage UsageStore, features FeatureStore, logger *zap.Logger) *QuotaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QuotaService{
		accounts: accounts,
		usage:    usage,
		features: features,
		logger:   logger,
	}
}

// DeductInput describes one charge request.
type DeductInput struct {
	UserID     int64
	FeatureKey string
	Source     string
	Amount     int64
	SessionID  string
	Minute     int
	DeductType string
}

// DeductOutcome reports the applied charge.
type DeductOutcome struct {
	Cost           int64
	RemainingQuota int64
	Skipped        bool
}

// RefundInput describes one credit request.
type RefundInput struct {
	UserID     int64
	FeatureKey string
	Amount     int64
	SessionID  string
	Reason     string
}

// RefundOutcome reports the applied credit.
type RefundOutcome struct {
	RefundedAmount int64
	RemainingQuota int64
}

// Deduct charges the user's balance. A request carrying a session id and
// minute that were already billed is acknowledged without charging again, so
// clients may retry the same minute safely.
func (s *QuotaService) Deduct(ctx context.Context, input DeductInput) (*DeductOutcome, error) {
	if input.UserID == 0 {
		return nil, ErrAccountNotFound
	}
	if input.FeatureKey == "" && input.Amount <= 0 {
		return nil, ErrFeatureRequired
	}

	if input.SessionID != "" && input.Minute > 0 {
		billed, err := s.usage.HasMinuteRecord(ctx, input.UserID, input.SessionID, input.Minute)
		if err != nil {
			return nil, err
		}
		if billed {
			s.logger.Info("duplicate billing prevented",
				zap.String("session_id", input.SessionID),
				zap.Int("minute", input.Minute),
			)
			account, err := s.accountFor(ctx, input.UserID)
			if err != nil {
				return nil, err
			}
			return &DeductOutcome{Cost: 0, RemainingQuota: account.RemainingQuota, Skipped: true}, nil
		}
	}

	cost, err := s.resolveCost(ctx, input)
	if err != nil {
		return nil, err
	}
	if cost == 0 {
		account, err := s.accountFor(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		return &DeductOutcome{Cost: 0, RemainingQuota: account.RemainingQuota}, nil
	}

	remaining, err := s.accounts.Deduct(ctx, input.UserID, cost)
	if errors.Is(err, repository.ErrBalanceTooLow) {
		return nil, ErrInsufficientQuota
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &models.UsageRecord{
		UserID:     input.UserID,
		RecordType: models.RecordTypeDeduct,
		FeatureKey: input.FeatureKey,
		Source:     input.Source,
		Amount:     cost,
		SessionID:  input.SessionID,
		Minute:     input.Minute,
		DeductType: input.DeductType,
	}
	if err := s.usage.Create(ctx, rec); err != nil {
		s.logger.Error("failed to record deduction", zap.Error(err),
			zap.Int64("user_id", input.UserID),
			zap.String("session_id", input.SessionID),
		)
		return nil, err
	}

	s.logger.Info("quota deducted",
		zap.Int64("user_id", input.UserID),
		zap.String("feature_key", input.FeatureKey),
		zap.Int64("cost", cost),
		zap.Int64("remaining", remaining),
	)
	return &DeductOutcome{Cost: cost, RemainingQuota: remaining}, nil
}

// Refund credits points back. A refund tied to a session can never return
// more than the session's net deductions.
func (s *QuotaService) Refund(ctx context.Context, input RefundInput) (*RefundOutcome, error) {
	if input.UserID == 0 {
		return nil, ErrAccountNotFound
	}
	if input.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	if input.SessionID != "" {
		net, err := s.usage.SessionNetDeducted(ctx, input.UserID, input.SessionID)
		if err != nil {
			return nil, err
		}
		if input.Amount > net {
			return nil, ErrRefundExceedsDeducted
		}
	}

	remaining, err := s.accounts.Credit(ctx, input.UserID, input.Amount)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}

	rec := &models.UsageRecord{
		UserID:     input.UserID,
		RecordType: models.RecordTypeRefund,
		FeatureKey: input.FeatureKey,
		Source:     input.FeatureKey,
		Amount:     input.Amount,
		SessionID:  input.SessionID,
		Reason:     input.Reason,
	}
	if err := s.usage.Create(ctx, rec); err != nil {
		s.logger.Error("failed to record refund", zap.Error(err),
			zap.Int64("user_id", input.UserID),
			zap.String("session_id", input.SessionID),
		)
		return nil, err
	}

	s.logger.Info("quota refunded",
		zap.Int64("user_id", input.UserID),
		zap.Int64("amount", input.Amount),
		zap.String("reason", input.Reason),
		zap.Int64("remaining", remaining),
	)
	return &RefundOutcome{RefundedAmount: input.Amount, RemainingQuota: remaining}, nil
}

// AccountForUser returns the user's balance.
func (s *QuotaService) AccountForUser(ctx context.Context, userID int64) (*models.Account, error) {
	return s.accountFor(ctx, userID)
}

// UsageForUser returns recent records plus a daily summary.
func (s *QuotaService) UsageForUser(ctx context.Context, userID int64, limit, days int) ([]models.UsageRecord, []models.DailyUsage, error) {
	records, err := s.usage.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, nil, err
	}
	summary, err := s.usage.DailySummary(ctx, userID, days)
	if err != nil {
		return nil, nil, err
	}
	return records, summary, nil
}

// resolveCost applies the explicit amount first and falls back to the feature
// cost table. An inactive feature costs nothing.
func (s *QuotaService) resolveCost(ctx context.Context, input DeductInput) (int64, error) {
	if input.Amount > 0 {
		return input.Amount, nil
	}

	fc, err := s.features.CostByKey(ctx, input.FeatureKey)
	if errors.Is(err, repository.ErrNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	if !fc.IsActive {
		return 0, nil
	}
	return fc.Cost, nil
}

func (s *QuotaService) accountFor(ctx context.Context, userID int64) (*models.Account, error) {
	account, err := s.accounts.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return account, nil
}
