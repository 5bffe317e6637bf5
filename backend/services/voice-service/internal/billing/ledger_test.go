package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeQuota struct {
	mu        sync.Mutex
	deducts   []DeductRequest
	refunds   []RefundRequest
	deductErr error
	refundErr error
	remaining int64

	started chan struct{}
	release chan struct{}
}

func newFakeQuota(remaining int64) *fakeQuota {
	return &fakeQuota{remaining: remaining}
}

func (f *fakeQuota) Deduct(_ context.Context, req DeductRequest) (*DeductResult, error) {
	f.mu.Lock()
	started := f.started
	release := f.release
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deductErr != nil {
		return nil, f.deductErr
	}
	if f.remaining < req.Amount {
		return nil, ErrInsufficientQuota
	}
	f.remaining -= req.Amount
	f.deducts = append(f.deducts, req)
	return &DeductResult{RemainingQuota: f.remaining}, nil
}

func (f *fakeQuota) Refund(_ context.Context, req RefundRequest) (*RefundResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refundErr != nil {
		return nil, f.refundErr
	}
	f.remaining += req.Amount
	f.refunds = append(f.refunds, req)
	return &RefundResult{RefundedAmount: req.Amount, RemainingQuota: f.remaining}, nil
}

func (f *fakeQuota) deductCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deducts)
}

func (f *fakeQuota) refundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.refunds)
}

func (f *fakeQuota) lastDeduct() DeductRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deducts[len(f.deducts)-1]
}

func (f *fakeQuota) lastRefund() RefundRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refunds[len(f.refunds)-1]
}

type recordingEvents struct {
	mu           sync.Mutex
	balances     []int64
	refunds      []int64
	insufficient int
}

func (r *recordingEvents) BalanceUpdated(remaining int64) {
	r.mu.Lock()
	r.balances = append(r.balances, remaining)
	r.mu.Unlock()
}

func (r *recordingEvents) RefundIssued(amount, _ int64) {
	r.mu.Lock()
	r.refunds = append(r.refunds, amount)
	r.mu.Unlock()
}

func (r *recordingEvents) InsufficientBalance() {
	r.mu.Lock()
	r.insufficient++
	r.mu.Unlock()
}

func testSession() Session {
	return Session{
		SessionID:       "call-1",
		UserID:          42,
		FeatureKey:      "realtime_voice",
		Source:          "voice_chat",
		PointsPerMinute: 8,
	}
}

func TestPreDeductFirstMinuteIdempotent(t *testing.T) {
	quota := newFakeQuota(100)
	ledger := NewLedger(testSession(), quota, nil, nil)

	if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
		t.Fatalf("first pre-deduction failed: %v", err)
	}
	if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
		t.Fatalf("repeated pre-deduction failed: %v", err)
	}

	if got := quota.deductCount(); got != 1 {
		t.Fatalf("expected 1 external deduct, got %d", got)
	}
	state := ledger.State()
	if state.TotalDeducted != 8 {
		t.Fatalf("expected total deducted 8, got %d", state.TotalDeducted)
	}
	if !state.PreDeducted || state.LastBilledMinute != 1 {
		t.Fatalf("unexpected state after pre-deduction: %+v", state)
	}
	if req := quota.lastDeduct(); req.Minute != 1 || req.DeductType != DeductTypePreDeduction {
		t.Fatalf("unexpected deduct request: %+v", req)
	}
}

func TestPreDeductFailureLeavesStateUntouched(t *testing.T) {
	quota := newFakeQuota(4) // less than one minute's cost
	events := &recordingEvents{}
	ledger := NewLedger(testSession(), quota, events, nil)

	err := ledger.PreDeductFirstMinute(context.Background())
	if !errors.Is(err, ErrInsufficientQuota) {
		t.Fatalf("expected insufficient quota error, got %v", err)
	}

	state := ledger.State()
	if state.PreDeducted || state.LastBilledMinute != 0 || state.TotalDeducted != 0 {
		t.Fatalf("state mutated on failed pre-deduction: %+v", state)
	}
	if events.insufficient != 1 {
		t.Fatalf("expected insufficient balance notification, got %d", events.insufficient)
	}
}

func TestDeductMinuteDedup(t *testing.T) {
	quota := newFakeQuota(100)
	ledger := NewLedger(testSession(), quota, nil, nil)

	if err := ledger.DeductMinute(context.Background(), 1); err != nil {
		t.Fatalf("deduct minute 1: %v", err)
	}
	if err := ledger.DeductMinute(context.Background(), 1); err != nil {
		t.Fatalf("duplicate deduct minute 1: %v", err)
	}

	if got := quota.deductCount(); got != 1 {
		t.Fatalf("expected 1 external deduct, got %d", got)
	}
	if state := ledger.State(); state.LastBilledMinute != 1 {
		t.Fatalf("expected last billed minute 1, got %d", state.LastBilledMinute)
	}
}

func TestDeductMinuteRejectsConcurrent(t *testing.T) {
	quota := newFakeQuota(100)
	quota.started = make(chan struct{}, 1)
	quota.release = make(chan struct{})
	ledger := NewLedger(testSession(), quota, nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- ledger.DeductMinute(context.Background(), 2)
	}()
	<-quota.started

	if err := ledger.DeductMinute(context.Background(), 2); !errors.Is(err, ErrDeductionInFlight) {
		t.Fatalf("expected in-flight rejection, got %v", err)
	}

	close(quota.release)
	if err := <-done; err != nil {
		t.Fatalf("first deduction failed: %v", err)
	}
	if got := quota.deductCount(); got != 1 {
		t.Fatalf("expected 1 external deduct, got %d", got)
	}
}

func TestDeductMinuteBillsGap(t *testing.T) {
	quota := newFakeQuota(100)
	ledger := NewLedger(testSession(), quota, nil, nil)

	if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
		t.Fatalf("pre-deduction: %v", err)
	}
	// Minute ticks 2 and 3 were dropped; the next tick covers the whole gap.
	if err := ledger.DeductMinute(context.Background(), 4); err != nil {
		t.Fatalf("deduct minute 4: %v", err)
	}

	req := quota.lastDeduct()
	if req.Amount != 24 || req.Minute != 4 {
		t.Fatalf("expected gap charge of 24 points for minute 4, got %+v", req)
	}
	state := ledger.State()
	if state.LastBilledMinute != 4 || state.TotalDeducted != 32 {
		t.Fatalf("unexpected state after gap billing: %+v", state)
	}
}

func TestDeductMinuteInsufficientBalance(t *testing.T) {
	quota := newFakeQuota(10)
	events := &recordingEvents{}
	ledger := NewLedger(testSession(), quota, events, nil)

	if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
		t.Fatalf("pre-deduction: %v", err)
	}
	err := ledger.DeductMinute(context.Background(), 2)
	if !errors.Is(err, ErrInsufficientQuota) {
		t.Fatalf("expected insufficient quota error, got %v", err)
	}

	state := ledger.State()
	if state.LastBilledMinute != 1 || state.TotalDeducted != 8 {
		t.Fatalf("state advanced despite failed deduction: %+v", state)
	}
	if events.insufficient != 1 {
		t.Fatalf("expected insufficient balance notification, got %d", events.insufficient)
	}
}

func TestShortCallRefundTiers(t *testing.T) {
	cases := []struct {
		name       string
		duration   int
		wantRefund int64
		wantIssued bool
		wantCalls  int
		wantReason string
	}{
		{name: "under 10s", duration: 5, wantRefund: 8, wantIssued: true, wantCalls: 1, wantReason: ReasonCallTooShort},
		{name: "10 to 30s", duration: 20, wantRefund: 4, wantIssued: true, wantCalls: 1, wantReason: ReasonCallShort},
		{name: "30s or longer", duration: 45, wantIssued: false, wantCalls: 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			quota := newFakeQuota(100)
			ledger := NewLedger(testSession(), quota, nil, nil)
			if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
				t.Fatalf("pre-deduction: %v", err)
			}

			issued, err := ledger.RefundShortCall(context.Background(), tc.duration)
			if err != nil {
				t.Fatalf("refund short call: %v", err)
			}
			if issued != tc.wantIssued {
				t.Fatalf("expected issued=%v, got %v", tc.wantIssued, issued)
			}
			if got := quota.refundCount(); got != tc.wantCalls {
				t.Fatalf("expected %d external refunds, got %d", tc.wantCalls, got)
			}
			if tc.wantIssued {
				req := quota.lastRefund()
				if req.Amount != tc.wantRefund || req.Reason != tc.wantReason {
					t.Fatalf("unexpected refund request: %+v", req)
				}
				if state := ledger.State(); state.TotalDeducted != 8-tc.wantRefund {
					t.Fatalf("expected total deducted %d, got %d", 8-tc.wantRefund, state.TotalDeducted)
				}
			}
		})
	}
}

func TestShortCallRefundKeepsBilledState(t *testing.T) {
	quota := newFakeQuota(100)
	ledger := NewLedger(testSession(), quota, nil, nil)
	if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
		t.Fatalf("pre-deduction: %v", err)
	}

	issued, err := ledger.RefundShortCall(context.Background(), 20)
	if err != nil || !issued {
		t.Fatalf("expected refund to be issued, got issued=%v err=%v", issued, err)
	}

	state := ledger.State()
	if !state.PreDeducted || state.LastBilledMinute != 1 {
		t.Fatalf("partial refund must not reset billed counters: %+v", state)
	}
}

func TestShortCallRefundNoopWhenNothingBilled(t *testing.T) {
	quota := newFakeQuota(100)
	ledger := NewLedger(testSession(), quota, nil, nil)

	issued, err := ledger.RefundShortCall(context.Background(), 5)
	if err != nil {
		t.Fatalf("refund short call: %v", err)
	}
	if issued {
		t.Fatal("expected no refund when nothing was billed")
	}
	if got := quota.refundCount(); got != 0 {
		t.Fatalf("expected no external refund calls, got %d", got)
	}
}

func TestRefundPreDeductedResetsState(t *testing.T) {
	quota := newFakeQuota(100)
	events := &recordingEvents{}
	ledger := NewLedger(testSession(), quota, events, nil)
	if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
		t.Fatalf("pre-deduction: %v", err)
	}

	issued, err := ledger.RefundPreDeducted(context.Background(), ReasonConnectionFailed)
	if err != nil || !issued {
		t.Fatalf("expected refund, got issued=%v err=%v", issued, err)
	}

	state := ledger.State()
	if state.PreDeducted || state.LastBilledMinute != 0 || state.TotalDeducted != 0 {
		t.Fatalf("state not reset after full refund: %+v", state)
	}
	if req := quota.lastRefund(); req.Amount != 8 || req.Reason != ReasonConnectionFailed {
		t.Fatalf("unexpected refund request: %+v", req)
	}
	if len(events.refunds) != 1 || events.refunds[0] != 8 {
		t.Fatalf("expected refund notification for 8 points, got %v", events.refunds)
	}
}

func TestRefundPreDeductedNoopWithoutPreDeduction(t *testing.T) {
	quota := newFakeQuota(100)
	ledger := NewLedger(testSession(), quota, nil, nil)

	issued, err := ledger.RefundPreDeducted(context.Background(), ReasonCallNeverStarted)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if issued || quota.refundCount() != 0 {
		t.Fatal("expected no-op refund when nothing was pre-deducted")
	}
}

func TestRefundFailureLeavesStateUnchanged(t *testing.T) {
	quota := newFakeQuota(100)
	ledger := NewLedger(testSession(), quota, nil, nil)
	if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
		t.Fatalf("pre-deduction: %v", err)
	}

	quota.mu.Lock()
	quota.refundErr = errors.New("network down")
	quota.mu.Unlock()

	issued, err := ledger.RefundPreDeducted(context.Background(), ReasonConnectionFailed)
	if issued || err == nil {
		t.Fatalf("expected failed refund, got issued=%v err=%v", issued, err)
	}

	state := ledger.State()
	if !state.PreDeducted || state.LastBilledMinute != 1 || state.TotalDeducted != 8 {
		t.Fatalf("state changed on failed refund: %+v", state)
	}
}

func TestRestoreBilledMinutes(t *testing.T) {
	quota := newFakeQuota(100)
	ledger := NewLedger(testSession(), quota, nil, nil)

	ledger.RestoreBilledMinutes(3)

	state := ledger.State()
	if state.LastBilledMinute != 3 || !state.PreDeducted || state.TotalDeducted != 24 {
		t.Fatalf("unexpected restored state: %+v", state)
	}
	if quota.deductCount() != 0 || quota.refundCount() != 0 {
		t.Fatal("restore must not contact the quota service")
	}

	// A duplicate tick for an already-restored minute stays a no-op.
	if err := ledger.DeductMinute(context.Background(), 2); err != nil {
		t.Fatalf("deduct minute 2 after restore: %v", err)
	}
	if quota.deductCount() != 0 {
		t.Fatal("minutes below the restored high-water mark must not be billed")
	}
}

func TestEndToEndShortCallScenario(t *testing.T) {
	quota := newFakeQuota(100)
	events := &recordingEvents{}
	ledger := NewLedger(testSession(), quota, events, nil)

	if err := ledger.PreDeductFirstMinute(context.Background()); err != nil {
		t.Fatalf("pre-deduction: %v", err)
	}
	if err := ledger.DeductMinute(context.Background(), 2); err != nil {
		t.Fatalf("deduct minute 2: %v", err)
	}

	// Call ended at 95 seconds: past every refund tier.
	issued, err := ledger.RefundShortCall(context.Background(), 95)
	if err != nil {
		t.Fatalf("refund short call: %v", err)
	}
	if issued {
		t.Fatal("expected no refund for a call at or over 30s")
	}

	state := ledger.State()
	if state.TotalDeducted != 16 || state.LastBilledMinute != 2 {
		t.Fatalf("unexpected final state: %+v", state)
	}
	if got := []int64{92, 84}; len(events.balances) != 2 || events.balances[0] != got[0] || events.balances[1] != got[1] {
		t.Fatalf("expected balance updates %v, got %v", got, events.balances)
	}
}
