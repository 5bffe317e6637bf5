package billing

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Session identifies one billable voice call. PointsPerMinute is fixed for the
// session's lifetime.
type Session struct {
	SessionID       string
	UserID          int64
	FeatureKey      string
	Source          string
	PointsPerMinute int64
}

// State is a read-only snapshot of the ledger's billing counters.
type State struct {
	LastBilledMinute int
	PreDeducted      bool
	TotalDeducted    int64
}

// Ledger tracks minute-by-minute consumption for a single voice call. It
// guarantees at-most-once billing per minute boundary: duplicate minute ticks
// are no-ops and a contested deduction is rejected, never queued.
type Ledger struct {
	session Session
	quota   QuotaClient
	events  Events
	logger  *zap.Logger

	mu               sync.Mutex
	lastBilledMinute int
	preDeducted      bool
	deducting        bool
	totalDeducted    int64
}

// NewLedger builds a ledger for one call session.
func NewLedger(session Session, quota QuotaClient, events Events, logger *zap.Logger) *Ledger {
	if events == nil {
		events = NopEvents{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		session: session,
		quota:   quota,
		events:  events,
		logger:  logger.With(zap.String("session_id", session.SessionID)),
	}
}

// Session returns the immutable session config.
func (l *Ledger) Session() Session {
	return l.session
}

// SetEvents swaps the notification sink, used when a new connection takes
// over an existing call after a reconnect.
func (l *Ledger) SetEvents(events Events) {
	if events == nil {
		events = NopEvents{}
	}
	l.mu.Lock()
	l.events = events
	l.mu.Unlock()
}

func (l *Ledger) notify() Events {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.events
}

// State returns the current billing counters.
func (l *Ledger) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return State{
		LastBilledMinute: l.lastBilledMinute,
		PreDeducted:      l.preDeducted,
		TotalDeducted:    l.totalDeducted,
	}
}

// PreDeductFirstMinute charges the first minute before the call connects.
// Calling it again after success is a no-op. On failure the billing state is
// left untouched and the caller is expected to abort call setup.
func (l *Ledger) PreDeductFirstMinute(ctx context.Context) error {
	l.mu.Lock()
	if l.preDeducted {
		l.mu.Unlock()
		return nil
	}
	if l.deducting {
		l.mu.Unlock()
		return ErrDeductionInFlight
	}
	l.deducting = true
	l.mu.Unlock()

	res, err := l.quota.Deduct(ctx, DeductRequest{
		UserID:     l.session.UserID,
		FeatureKey: l.session.FeatureKey,
		Source:     l.session.Source,
		Amount:     l.session.PointsPerMinute,
		SessionID:  l.session.SessionID,
		Minute:     1,
		DeductType: DeductTypePreDeduction,
	})

	l.mu.Lock()
	l.deducting = false
	if err != nil {
		l.mu.Unlock()
		if errors.Is(err, ErrInsufficientQuota) {
			l.notify().InsufficientBalance()
		}
		l.logger.Warn("pre-deduction failed", zap.Error(err))
		return err
	}
	l.preDeducted = true
	l.lastBilledMinute = 1
	l.totalDeducted = l.session.PointsPerMinute
	l.mu.Unlock()

	l.logger.Info("pre-deducted first minute",
		zap.Int64("amount", l.session.PointsPerMinute),
		zap.Int64("remaining_quota", res.RemainingQuota),
	)
	l.notify().BalanceUpdated(res.RemainingQuota)
	return nil
}

// DeductMinute charges up to the given 1-based minute index. Minutes at or
// below the billed high-water mark were already charged and return nil without
// an external call. When a previous deduction is still in flight the call is
// rejected with ErrDeductionInFlight; skipped minutes are recovered on the
// next tick because the whole gap since the last billed minute is charged.
func (l *Ledger) DeductMinute(ctx context.Context, minute int) error {
	l.mu.Lock()
	if minute <= l.lastBilledMinute {
		l.mu.Unlock()
		return nil
	}
	if l.deducting {
		l.mu.Unlock()
		return ErrDeductionInFlight
	}
	l.deducting = true
	gap := minute - l.lastBilledMinute
	l.mu.Unlock()

	amount := int64(gap) * l.session.PointsPerMinute
	res, err := l.quota.Deduct(ctx, DeductRequest{
		UserID:     l.session.UserID,
		FeatureKey: l.session.FeatureKey,
		Source:     l.session.Source,
		Amount:     amount,
		SessionID:  l.session.SessionID,
		Minute:     minute,
		DeductType: DeductTypeBilling,
	})

	l.mu.Lock()
	l.deducting = false
	if err != nil {
		l.mu.Unlock()
		if errors.Is(err, ErrInsufficientQuota) {
			l.notify().InsufficientBalance()
		}
		l.logger.Warn("minute deduction failed", zap.Int("minute", minute), zap.Error(err))
		return err
	}
	l.lastBilledMinute = minute
	l.totalDeducted += amount
	l.mu.Unlock()

	l.logger.Info("billed minute",
		zap.Int("minute", minute),
		zap.Int64("amount", amount),
		zap.Int64("remaining_quota", res.RemainingQuota),
	)
	l.notify().BalanceUpdated(res.RemainingQuota)
	return nil
}

// RefundPreDeducted reverses the pre-deduction when the call never actually
// connected. Returns false when nothing was pre-deducted or the refund failed;
// state is only reset after the external refund succeeds.
func (l *Ledger) RefundPreDeducted(ctx context.Context, reason string) (bool, error) {
	l.mu.Lock()
	if !l.preDeducted {
		l.mu.Unlock()
		return false, nil
	}
	l.mu.Unlock()

	res, err := l.quota.Refund(ctx, RefundRequest{
		UserID:     l.session.UserID,
		FeatureKey: l.session.FeatureKey,
		Amount:     l.session.PointsPerMinute,
		SessionID:  l.session.SessionID,
		Reason:     reason,
	})
	if err != nil {
		l.logger.Warn("pre-deduction refund failed", zap.String("reason", reason), zap.Error(err))
		return false, err
	}

	l.mu.Lock()
	l.preDeducted = false
	l.lastBilledMinute = 0
	l.totalDeducted = 0
	l.mu.Unlock()

	l.logger.Info("refunded pre-deduction",
		zap.String("reason", reason),
		zap.Int64("amount", res.RefundedAmount),
		zap.Int64("remaining_quota", res.RemainingQuota),
	)
	l.notify().RefundIssued(res.RefundedAmount, res.RemainingQuota)
	return true, nil
}

// RefundShortCall issues the duration-tiered partial credit after a connected
// call ended early: full minute price under 10s, half under 30s, nothing from
// 30s on. The billed counters are kept because this is a credit after the
// fact, not a reversal.
func (l *Ledger) RefundShortCall(ctx context.Context, durationSeconds int) (bool, error) {
	l.mu.Lock()
	if !l.preDeducted || l.lastBilledMinute == 0 {
		l.mu.Unlock()
		return false, nil
	}
	l.mu.Unlock()

	var amount int64
	var reason string
	switch {
	case durationSeconds < 10:
		amount = l.session.PointsPerMinute
		reason = ReasonCallTooShort
	case durationSeconds < 30:
		amount = l.session.PointsPerMinute / 2
		reason = ReasonCallShort
	default:
		return false, nil
	}
	if amount == 0 {
		return false, nil
	}

	res, err := l.quota.Refund(ctx, RefundRequest{
		UserID:     l.session.UserID,
		FeatureKey: l.session.FeatureKey,
		Amount:     amount,
		SessionID:  l.session.SessionID,
		Reason:     reason,
	})
	if err != nil {
		l.logger.Warn("short call refund failed",
			zap.Int("duration_seconds", durationSeconds),
			zap.Error(err),
		)
		return false, err
	}

	l.mu.Lock()
	l.totalDeducted -= res.RefundedAmount
	l.mu.Unlock()

	l.logger.Info("refunded short call",
		zap.Int("duration_seconds", durationSeconds),
		zap.String("reason", reason),
		zap.Int64("amount", res.RefundedAmount),
		zap.Int64("remaining_quota", res.RemainingQuota),
	)
	l.notify().RefundIssued(res.RefundedAmount, res.RemainingQuota)
	return true, nil
}

// RestoreBilledMinutes rebuilds local state after a reconnect from an
// externally persisted minute count. No external call is made; the caller's
// source of truth is trusted.
func (l *Ledger) RestoreBilledMinutes(minutes int) {
	if minutes < 0 {
		minutes = 0
	}
	l.mu.Lock()
	l.lastBilledMinute = minutes
	l.preDeducted = minutes > 0
	l.totalDeducted = int64(minutes) * l.session.PointsPerMinute
	l.mu.Unlock()

	l.logger.Info("restored billed minutes", zap.Int("minutes", minutes))
}
