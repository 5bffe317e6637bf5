package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"voicecoach/backend/services/quota-service/internal/models"
	"voicecoach/backend/services/quota-service/internal/repository"
)

type fakeAccounts struct {
	mu       sync.Mutex
	balances map[int64]int64
}

func newFakeAccounts(balances map[int64]int64) *fakeAccounts {
	return &fakeAccounts{balances: balances}
}

func (f *fakeAccounts) GetByUserID(_ context.Context, userID int64) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &models.Account{UserID: userID, RemainingQuota: balance, TotalQuota: 100}, nil
}

func (f *fakeAccounts) Deduct(_ context.Context, userID, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	if balance < amount {
		return 0, repository.ErrBalanceTooLow
	}
	f.balances[userID] = balance - amount
	return f.balances[userID], nil
}

func (f *fakeAccounts) Credit(_ context.Context, userID, amount int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	f.balances[userID] = balance + amount
	return f.balances[userID], nil
}

type fakeUsage struct {
	mu      sync.Mutex
	records []models.UsageRecord
}

func (f *fakeUsage) Create(_ context.Context, rec *models.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec.ID = int64(len(f.records) + 1)
	f.records = append(f.records, *rec)
	return nil
}

func (f *fakeUsage) HasMinuteRecord(_ context.Context, userID int64, sessionID string, minute int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec.UserID == userID && rec.SessionID == sessionID && rec.Minute == minute && rec.RecordType == models.RecordTypeDeduct {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeUsage) SessionNetDeducted(_ context.Context, userID int64, sessionID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var net int64
	for _, rec := range f.records {
		if rec.UserID != userID || rec.SessionID != sessionID {
			continue
		}
		if rec.RecordType == models.RecordTypeDeduct {
			net += rec.Amount
		} else {
			net -= rec.Amount
		}
	}
	return net, nil
}

func (f *fakeUsage) ListByUser(_ context.Context, userID int64, _ int) ([]models.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.UsageRecord
	for _, rec := range f.records {
		if rec.UserID == userID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeUsage) DailySummary(_ context.Context, userID int64, _ int) ([]models.DailyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	day := models.DailyUsage{Day: "2026-01-01"}
	for _, rec := range f.records {
		if rec.UserID != userID {
			continue
		}
		if rec.RecordType == models.RecordTypeDeduct {
			day.Deducted += rec.Amount
		} else {
			day.Refunded += rec.Amount
		}
	}
	return []models.DailyUsage{day}, nil
}

type fakeFeatures struct {
	costs map[string]models.FeatureCost
}

func (f *fakeFeatures) CostByKey(_ context.Context, featureKey string) (*models.FeatureCost, error) {
	fc, ok := f.costs[featureKey]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &fc, nil
}

func newTestService(balances map[int64]int64) (*QuotaService, *fakeAccounts, *fakeUsage) {
	accounts := newFakeAccounts(balances)
	usage := &fakeUsage{}
	features := &fakeFeatures{costs: map[string]models.FeatureCost{
		"voice_call": {FeatureKey: "voice_call", Cost: 8, IsActive: true},
		"old_report": {FeatureKey: "old_report", Cost: 5, IsActive: false},
	}}
	return NewQuotaService(accounts, usage, features, nil), accounts, usage
}

func TestDeductUsesExplicitAmountFirst(t *testing.T) {
	svc, _, usage := newTestService(map[int64]int64{7: 100})

	out, err := svc.Deduct(context.Background(), DeductInput{
		UserID:     7,
		FeatureKey: "voice_call",
		Source:     "voice_chat",
		Amount:     12,
		SessionID:  "sess-1",
		Minute:     1,
		DeductType: "pre_deduction",
	})
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if out.Cost != 12 || out.RemainingQuota != 88 || out.Skipped {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(usage.records) != 1 || usage.records[0].Minute != 1 {
		t.Fatalf("expected one usage record with minute 1, got %+v", usage.records)
	}
}

func TestDeductFallsBackToFeatureCost(t *testing.T) {
	svc, _, _ := newTestService(map[int64]int64{7: 100})

	out, err := svc.Deduct(context.Background(), DeductInput{UserID: 7, FeatureKey: "voice_call", Source: "voice_chat"})
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if out.Cost != 8 || out.RemainingQuota != 92 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestDeductUnknownFeatureCostsOnePoint(t *testing.T) {
	svc, _, _ := newTestService(map[int64]int64{7: 100})

	out, err := svc.Deduct(context.Background(), DeductInput{UserID: 7, FeatureKey: "mystery"})
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if out.Cost != 1 || out.RemainingQuota != 99 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestDeductInactiveFeatureIsFree(t *testing.T) {
	svc, _, usage := newTestService(map[int64]int64{7: 100})

	out, err := svc.Deduct(context.Background(), DeductInput{UserID: 7, FeatureKey: "old_report"})
	if err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if out.Cost != 0 || out.RemainingQuota != 100 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(usage.records) != 0 {
		t.Fatalf("inactive feature should not record usage, got %+v", usage.records)
	}
}

func TestDeductSkipsDuplicateSessionMinute(t *testing.T) {
	svc, _, usage := newTestService(map[int64]int64{7: 100})

	input := DeductInput{
		UserID:     7,
		FeatureKey: "voice_call",
		Source:     "voice_chat",
		Amount:     8,
		SessionID:  "sess-1",
		Minute:     2,
		DeductType: "billing",
	}
	if _, err := svc.Deduct(context.Background(), input); err != nil {
		t.Fatalf("first Deduct: %v", err)
	}

	out, err := svc.Deduct(context.Background(), input)
	if err != nil {
		t.Fatalf("second Deduct: %v", err)
	}
	if !out.Skipped || out.Cost != 0 {
		t.Fatalf("expected duplicate skip, got %+v", out)
	}
	if out.RemainingQuota != 92 {
		t.Fatalf("expected balance 92 after single charge, got %d", out.RemainingQuota)
	}
	if len(usage.records) != 1 {
		t.Fatalf("duplicate should not add a record, got %d", len(usage.records))
	}
}

func TestDeductInsufficientBalance(t *testing.T) {
	svc, accounts, usage := newTestService(map[int64]int64{7: 5})

	_, err := svc.Deduct(context.Background(), DeductInput{UserID: 7, FeatureKey: "voice_call", Amount: 8})
	if !errors.Is(err, ErrInsufficientQuota) {
		t.Fatalf("expected ErrInsufficientQuota, got %v", err)
	}
	if accounts.balances[7] != 5 {
		t.Fatalf("balance must be untouched, got %d", accounts.balances[7])
	}
	if len(usage.records) != 0 {
		t.Fatalf("failed deduction must not record usage")
	}
}

func TestDeductUnknownAccount(t *testing.T) {
	svc, _, _ := newTestService(map[int64]int64{})

	_, err := svc.Deduct(context.Background(), DeductInput{UserID: 42, FeatureKey: "voice_call", Amount: 8})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestRefundCappedBySessionDeductions(t *testing.T) {
	svc, _, _ := newTestService(map[int64]int64{7: 100})

	if _, err := svc.Deduct(context.Background(), DeductInput{
		UserID: 7, FeatureKey: "voice_call", Amount: 8, SessionID: "sess-1", Minute: 1,
	}); err != nil {
		t.Fatalf("Deduct: %v", err)
	}

	_, err := svc.Refund(context.Background(), RefundInput{
		UserID: 7, FeatureKey: "voice_call", Amount: 20, SessionID: "sess-1", Reason: "connection_failed",
	})
	if !errors.Is(err, ErrRefundExceedsDeducted) {
		t.Fatalf("expected ErrRefundExceedsDeducted, got %v", err)
	}

	out, err := svc.Refund(context.Background(), RefundInput{
		UserID: 7, FeatureKey: "voice_call", Amount: 8, SessionID: "sess-1", Reason: "connection_failed",
	})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if out.RefundedAmount != 8 || out.RemainingQuota != 100 {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	// The credited refund lowers the session's net deductions to zero.
	_, err = svc.Refund(context.Background(), RefundInput{
		UserID: 7, FeatureKey: "voice_call", Amount: 1, SessionID: "sess-1", Reason: "connection_failed",
	})
	if !errors.Is(err, ErrRefundExceedsDeducted) {
		t.Fatalf("expected ErrRefundExceedsDeducted after full refund, got %v", err)
	}
}

func TestRefundWithoutSessionSkipsCap(t *testing.T) {
	svc, _, usage := newTestService(map[int64]int64{7: 50})

	out, err := svc.Refund(context.Background(), RefundInput{UserID: 7, FeatureKey: "voice_call", Amount: 10, Reason: "goodwill"})
	if err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if out.RemainingQuota != 60 {
		t.Fatalf("expected balance 60, got %d", out.RemainingQuota)
	}
	if len(usage.records) != 1 || usage.records[0].RecordType != models.RecordTypeRefund {
		t.Fatalf("expected one refund record, got %+v", usage.records)
	}
}

func TestRefundRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := newTestService(map[int64]int64{7: 50})

	_, err := svc.Refund(context.Background(), RefundInput{UserID: 7, Amount: 0})
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestUsageForUserAggregates(t *testing.T) {
	svc, _, _ := newTestService(map[int64]int64{7: 100})

	if _, err := svc.Deduct(context.Background(), DeductInput{
		UserID: 7, FeatureKey: "voice_call", Amount: 8, SessionID: "sess-1", Minute: 1,
	}); err != nil {
		t.Fatalf("Deduct: %v", err)
	}
	if _, err := svc.Refund(context.Background(), RefundInput{
		UserID: 7, FeatureKey: "voice_call", Amount: 4, SessionID: "sess-1", Reason: "call_short_10_to_30s",
	}); err != nil {
		t.Fatalf("Refund: %v", err)
	}

	records, summary, err := svc.UsageForUser(context.Background(), 7, 50, 7)
	if err != nil {
		t.Fatalf("UsageForUser: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if len(summary) != 1 || summary[0].Deducted != 8 || summary[0].Refunded != 4 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}
