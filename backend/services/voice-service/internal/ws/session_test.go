package ws

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"voicecoach/backend/services/voice-service/internal/billing"
	"voicecoach/backend/services/voice-service/internal/service"
)

func newTestCall() *service.ActiveCall {
	ledger := billing.NewLedger(billing.Session{
		SessionID:       "sess-1",
		UserID:          7,
		FeatureKey:      "voice_call",
		Source:          "voice_chat",
		PointsPerMinute: 8,
	}, nil, nil, nil)
	return &service.ActiveCall{
		SessionID:  "sess-1",
		UserID:     7,
		FeatureKey: "voice_call",
		Ledger:     ledger,
		StartedAt:  time.Now(),
	}
}

func drainEvent(t *testing.T, s *Session) serverEvent {
	t.Helper()
	select {
	case data := <-s.send:
		var ev serverEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return ev
	default:
		t.Fatal("no event in send buffer")
		return serverEvent{}
	}
}

func TestEventsBeforeSetCallAreQueued(t *testing.T) {
	s := newSession(nil, nil, time.Second, time.Second, zap.NewNop())

	// Fired during call setup, before the call is attached.
	s.BalanceUpdated(92)

	select {
	case <-s.send:
		t.Fatal("event must not be pushed before setCall")
	default:
	}

	s.setCall(newTestCall())

	ev := drainEvent(t, s)
	if ev.Type != eventBilling || ev.SessionID != "sess-1" || ev.RemainingQuota != 92 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestEventsAfterSetCallDispatchDirectly(t *testing.T) {
	s := newSession(nil, nil, time.Second, time.Second, zap.NewNop())
	s.setCall(newTestCall())

	s.RefundIssued(4, 96)

	ev := drainEvent(t, s)
	if ev.Type != eventRefund || ev.Amount != 4 || ev.RemainingQuota != 96 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestLowBalanceWarningFollowsBillingEvent(t *testing.T) {
	s := newSession(nil, nil, time.Second, time.Second, zap.NewNop())
	s.setCall(newTestCall())

	// Remaining below two minutes of credit but still above one minute.
	s.BalanceUpdated(12)

	first := drainEvent(t, s)
	if first.Type != eventBilling {
		t.Fatalf("expected billing event first, got %+v", first)
	}
	second := drainEvent(t, s)
	if second.Type != eventWarning || second.RemainingQuota != 12 {
		t.Fatalf("expected low balance warning, got %+v", second)
	}
}

func TestNoWarningWhenBalanceBelowOneMinute(t *testing.T) {
	s := newSession(nil, nil, time.Second, time.Second, zap.NewNop())
	s.setCall(newTestCall())

	s.BalanceUpdated(3)

	if ev := drainEvent(t, s); ev.Type != eventBilling {
		t.Fatalf("expected billing event, got %+v", ev)
	}
	select {
	case data := <-s.send:
		t.Fatalf("unexpected extra event: %s", data)
	default:
	}
}
