package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voicecoach/backend/services/voice-service/internal/billing"
	"voicecoach/backend/services/voice-service/internal/models"
	redisstore "voicecoach/backend/services/voice-service/internal/redis"
)

// Call status constants.
const (
	CallStatusCompleted = "completed"
	CallStatusFailed    = "failed"
)

var (
	// ErrCallNotFound is returned when no active call matches the session ID.
	ErrCallNotFound = errors.New("calls: active call not found")
	// ErrCallDurationLimit is returned when a call hits the maximum billable length.
	ErrCallDurationLimit = errors.New("calls: maximum call duration reached")
	// ErrNoRecoveryState is returned when a reconnect has nothing to restore from.
	ErrNoRecoveryState = errors.New("calls: no recovery state for session")
)

// CallStore persists finished calls.
type CallStore interface {
	Create(ctx context.Context, call *models.Call) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Call, error)
}

// MinutesStore persists the billed-minute high-water mark per session so a
// dropped call can resume billing where it left off.
type MinutesStore interface {
	Save(ctx context.Context, call redisstore.BilledCall) error
	Get(ctx context.Context, sessionID string) (*redisstore.BilledCall, error)
	Delete(ctx context.Context, sessionID string) error
}

// CallsService drives the billing lifecycle of voice calls.
type CallsService struct {
	calls    CallStore
	minutes  MinutesStore
	quota    billing.QuotaClient
	registry *CallRegistry
	logger   *zap.Logger

	pointsPerMinute int64
	maxMinutes      int
}

// NewCallsService builds service.
func NewCallsService(
	calls CallStore,
	minutes MinutesStore,
	quota billing.QuotaClient,
	pointsPerMinute int64,
	maxMinutes int,
	logger *zap.Logger,
) *CallsService {
	if pointsPerMinute <= 0 {
		pointsPerMinute = 8
	}
	if maxMinutes <= 0 {
		maxMinutes = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallsService{
		calls:           calls,
		minutes:         minutes,
		quota:           quota,
		registry:        NewCallRegistry(),
		pointsPerMinute: pointsPerMinute,
		maxMinutes:      maxMinutes,
		logger:          logger,
	}
}

// PointsPerMinute returns the per-minute rate applied to new calls.
func (s *CallsService) PointsPerMinute() int64 {
	return s.pointsPerMinute
}

// StartCallInput describes a new call.
type StartCallInput struct {
	UserID     int64
	FeatureKey string
	CoachKey   string
	Events     billing.Events
}

// StartCall pre-deducts the first minute and registers the call. A failed
// pre-deduction aborts call setup and nothing is registered.
func (s *CallsService) StartCall(ctx context.Context, input StartCallInput) (*ActiveCall, error) {
	sessionID := uuid.NewString()
	ledger := billing.NewLedger(billing.Session{
		SessionID:       sessionID,
		UserID:          input.UserID,
		FeatureKey:      input.FeatureKey,
		Source:          "voice_chat",
		PointsPerMinute: s.pointsPerMinute,
	}, s.quota, input.Events, s.logger)

	if err := ledger.PreDeductFirstMinute(ctx); err != nil {
		return nil, err
	}

	call := &ActiveCall{
		SessionID:  sessionID,
		UserID:     input.UserID,
		FeatureKey: input.FeatureKey,
		CoachKey:   input.CoachKey,
		Ledger:     ledger,
		StartedAt:  time.Now().UTC(),
	}
	s.registry.Add(call)
	s.persistMinutes(ctx, call)

	s.logger.Info("call started",
		zap.String("session_id", sessionID),
		zap.Int64("user_id", input.UserID),
		zap.String("feature_key", input.FeatureKey),
	)
	return call, nil
}

// BillElapsed charges through the minute the elapsed duration has entered.
// An in-flight rejection is swallowed: the next tick covers the gap. Hitting
// the duration cap returns ErrCallDurationLimit and the caller ends the call.
func (s *CallsService) BillElapsed(ctx context.Context, sessionID string, elapsed time.Duration) error {
	call, ok := s.registry.Get(sessionID)
	if !ok {
		return ErrCallNotFound
	}

	currentMinute := int(elapsed/time.Minute) + 1
	if currentMinute > s.maxMinutes {
		return ErrCallDurationLimit
	}

	err := call.Ledger.DeductMinute(ctx, currentMinute)
	if errors.Is(err, billing.ErrDeductionInFlight) {
		return nil
	}
	if err != nil {
		return err
	}

	s.persistMinutes(ctx, call)
	return nil
}

// EndCall settles a finished call: refunds the pre-deduction when the call
// never started, applies the short-call tiers otherwise, and records the
// session. Recording is best-effort; the settled call is returned regardless.
func (s *CallsService) EndCall(ctx context.Context, sessionID string, duration time.Duration) (*models.Call, error) {
	call, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, ErrCallNotFound
	}
	defer s.cleanup(ctx, sessionID)

	seconds := int(duration / time.Second)
	before := call.Ledger.State()
	status := CallStatusCompleted

	if before.PreDeducted {
		if seconds == 0 {
			status = CallStatusFailed
			if _, err := call.Ledger.RefundPreDeducted(ctx, billing.ReasonCallNeverStarted); err != nil {
				s.logger.Warn("full refund on unstarted call failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		} else {
			if _, err := call.Ledger.RefundShortCall(ctx, seconds); err != nil {
				s.logger.Warn("short call refund failed",
					zap.String("session_id", sessionID), zap.Error(err))
			}
		}
	}

	final := call.Ledger.State()
	record := &models.Call{
		SessionID:       sessionID,
		UserID:          call.UserID,
		FeatureKey:      call.FeatureKey,
		CoachKey:        call.CoachKey,
		Status:          status,
		DurationSeconds: seconds,
		BilledMinutes:   final.LastBilledMinute,
		TotalCost:       final.TotalDeducted,
		RefundedPoints:  before.TotalDeducted - final.TotalDeducted,
		StartedAt:       call.StartedAt,
		EndedAt:         call.StartedAt.Add(duration),
	}
	if err := s.calls.Create(ctx, record); err != nil {
		s.logger.Error("failed to record call session",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	s.logger.Info("call ended",
		zap.String("session_id", sessionID),
		zap.Int("duration_seconds", seconds),
		zap.Int("billed_minutes", final.LastBilledMinute),
		zap.Int64("total_cost", final.TotalDeducted),
	)
	return record, nil
}

// FailCall refunds the pre-deduction for a call whose connection never came up
// and records it as failed.
func (s *CallsService) FailCall(ctx context.Context, sessionID, reason string) (bool, error) {
	call, ok := s.registry.Get(sessionID)
	if !ok {
		return false, ErrCallNotFound
	}
	defer s.cleanup(ctx, sessionID)

	issued, err := call.Ledger.RefundPreDeducted(ctx, reason)
	if err != nil {
		s.logger.Warn("connection failure refund failed",
			zap.String("session_id", sessionID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}

	final := call.Ledger.State()
	record := &models.Call{
		SessionID:      sessionID,
		UserID:         call.UserID,
		FeatureKey:     call.FeatureKey,
		CoachKey:       call.CoachKey,
		Status:         CallStatusFailed,
		BilledMinutes:  final.LastBilledMinute,
		TotalCost:      final.TotalDeducted,
		RefundedPoints: boolToPoints(issued, call.Ledger.Session().PointsPerMinute),
		StartedAt:      call.StartedAt,
		EndedAt:        time.Now().UTC(),
	}
	if createErr := s.calls.Create(ctx, record); createErr != nil {
		s.logger.Error("failed to record failed call",
			zap.String("session_id", sessionID), zap.Error(createErr))
	}
	return issued, err
}

// ReconnectCall restores billing state for a dropped call. A call still held
// in the registry is reused; otherwise the persisted minute counter is
// replayed into a fresh ledger without any external billing calls.
func (s *CallsService) ReconnectCall(ctx context.Context, sessionID string, userID int64, events billing.Events) (*ActiveCall, error) {
	if call, ok := s.registry.Get(sessionID); ok {
		if call.UserID != userID {
			return nil, ErrCallNotFound
		}
		call.Ledger.SetEvents(events)
		return call, nil
	}

	saved, err := s.minutes.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoRecoveryState
		}
		return nil, err
	}
	if saved.UserID != userID {
		return nil, ErrCallNotFound
	}

	ledger := billing.NewLedger(billing.Session{
		SessionID:       sessionID,
		UserID:          userID,
		FeatureKey:      saved.FeatureKey,
		Source:          "voice_chat",
		PointsPerMinute: s.pointsPerMinute,
	}, s.quota, events, s.logger)
	ledger.RestoreBilledMinutes(saved.BilledMinutes)

	call := &ActiveCall{
		SessionID:  sessionID,
		UserID:     userID,
		FeatureKey: saved.FeatureKey,
		Ledger:     ledger,
		StartedAt:  time.Unix(saved.StartedAtUnix, 0).UTC(),
	}
	s.registry.Add(call)

	s.logger.Info("call restored after reconnect",
		zap.String("session_id", sessionID),
		zap.Int("billed_minutes", saved.BilledMinutes),
	)
	return call, nil
}

// CallsForUser returns call history for given user.
func (s *CallsService) CallsForUser(ctx context.Context, userID int64, limit int) ([]models.Call, error) {
	return s.calls.ListByUser(ctx, userID, limit)
}

// ActiveCalls returns currently running calls.
func (s *CallsService) ActiveCalls() []ActiveCall {
	return s.registry.Snapshot()
}

func (s *CallsService) persistMinutes(ctx context.Context, call *ActiveCall) {
	if s.minutes == nil {
		return
	}
	state := call.Ledger.State()
	err := s.minutes.Save(ctx, redisstore.BilledCall{
		SessionID:     call.SessionID,
		UserID:        call.UserID,
		FeatureKey:    call.FeatureKey,
		BilledMinutes: state.LastBilledMinute,
		StartedAtUnix: call.StartedAt.Unix(),
	})
	if err != nil {
		s.logger.Warn("failed to persist billed minutes",
			zap.String("session_id", call.SessionID), zap.Error(err))
	}
}

func (s *CallsService) cleanup(ctx context.Context, sessionID string) {
	s.registry.Remove(sessionID)
	if s.minutes == nil {
		return
	}
	if err := s.minutes.Delete(ctx, sessionID); err != nil && err != redis.Nil {
		s.logger.Warn("failed to delete billed minutes",
			zap.String("session_id", sessionID), zap.Error(err))
	}
}

func boolToPoints(issued bool, points int64) int64 {
	if !issued {
		return 0
	}
	return points
}
