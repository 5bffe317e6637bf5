package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voicecoach/backend/services/voice-service/internal/billing"
	"voicecoach/backend/services/voice-service/internal/service"
)

const (
	readLimit    = 64 * 1024
	readDeadline = 60 * time.Second
	pingInterval = 30 * time.Second
)

// Server event types pushed to the client.
const (
	eventBilling   = "billing"
	eventRefund    = "refund"
	eventWarning   = "warning"
	eventError     = "error"
	eventCallEnded = "call_ended"
	eventPong      = "pong"
)

type serverEvent struct {
	Type           string `json:"type"`
	SessionID      string `json:"session_id,omitempty"`
	Minute         int    `json:"minute,omitempty"`
	TotalCost      int64  `json:"total_cost,omitempty"`
	Amount         int64  `json:"amount,omitempty"`
	RemainingQuota int64  `json:"remaining_quota,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Message        string `json:"message,omitempty"`
}

type clientMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason,omitempty"`
}

// Session owns one call's WebSocket connection: it drives the billing ticker
// and pushes balance, refund and lifecycle events to the client. It implements
// billing.Events.
type Session struct {
	conn         *websocket.Conn
	calls        *service.CallsService
	logger       *zap.Logger
	tickInterval time.Duration
	writeTimeout time.Duration

	send chan []byte

	// call is nil until setCall; ledger events fired during call setup are
	// queued and flushed once the call is attached.
	mu     sync.Mutex
	call   *service.ActiveCall
	queued []queuedEvent

	endOnce sync.Once
}

type queuedKind int

const (
	kindBalance queuedKind = iota
	kindRefund
	kindInsufficient
)

type queuedEvent struct {
	kind      queuedKind
	amount    int64
	remaining int64
}

func newSession(conn *websocket.Conn, calls *service.CallsService, tickInterval, writeTimeout time.Duration, logger *zap.Logger) *Session {
	return &Session{
		conn:         conn,
		calls:        calls,
		logger:       logger,
		tickInterval: tickInterval,
		writeTimeout: writeTimeout,
		send:         make(chan []byte, 16),
	}
}

func (s *Session) setCall(call *service.ActiveCall) {
	s.mu.Lock()
	s.call = call
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	for _, ev := range queued {
		s.dispatch(ev)
	}
}

func (s *Session) activeCall() *service.ActiveCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.call
}

func (s *Session) enqueueOrDispatch(ev queuedEvent) {
	s.mu.Lock()
	if s.call == nil {
		s.queued = append(s.queued, ev)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.dispatch(ev)
}

func (s *Session) dispatch(ev queuedEvent) {
	call := s.activeCall()
	switch ev.kind {
	case kindBalance:
		state := call.Ledger.State()
		s.push(serverEvent{
			Type:           eventBilling,
			SessionID:      call.SessionID,
			Minute:         state.LastBilledMinute,
			TotalCost:      state.TotalDeducted,
			RemainingQuota: ev.remaining,
		})
		perMinute := call.Ledger.Session().PointsPerMinute
		if ev.remaining < 2*perMinute && ev.remaining >= perMinute {
			s.push(serverEvent{
				Type:           eventWarning,
				SessionID:      call.SessionID,
				RemainingQuota: ev.remaining,
				Message:        "balance running low",
			})
		}
	case kindRefund:
		s.push(serverEvent{
			Type:           eventRefund,
			SessionID:      call.SessionID,
			Amount:         ev.amount,
			RemainingQuota: ev.remaining,
		})
	case kindInsufficient:
		s.push(serverEvent{
			Type:      eventError,
			SessionID: call.SessionID,
			Message:   "balance insufficient, call ending",
		})
	}
}

// BalanceUpdated pushes the new balance after a successful deduction and warns
// when fewer than two minutes of credit remain.
func (s *Session) BalanceUpdated(remaining int64) {
	s.enqueueOrDispatch(queuedEvent{kind: kindBalance, remaining: remaining})
}

// RefundIssued notifies the client about a credited refund.
func (s *Session) RefundIssued(amount, remaining int64) {
	s.enqueueOrDispatch(queuedEvent{kind: kindRefund, amount: amount, remaining: remaining})
}

// InsufficientBalance surfaces the fatal balance error before the call ends.
func (s *Session) InsufficientBalance() {
	s.enqueueOrDispatch(queuedEvent{kind: kindInsufficient})
}

func (s *Session) push(event serverEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case s.send <- data:
	default:
		s.logger.Warn("dropping event, send buffer full", zap.String("type", event.Type))
	}
}

// run drives the session until the socket closes or billing ends the call.
func (s *Session) run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go s.writePump(ctx)
	go s.billingLoop(ctx)
	s.readPump(ctx)
}

func (s *Session) readPump(ctx context.Context) {
	defer s.endCall(ctx, "connection_closed")

	call := s.activeCall()
	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(readDeadline))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.Info("session read closed",
				zap.String("session_id", call.SessionID), zap.Error(err))
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readDeadline))

		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("failed to parse client message",
				zap.String("session_id", call.SessionID), zap.Error(err))
			continue
		}

		switch msg.Type {
		case "ping":
			s.push(serverEvent{Type: eventPong})
		case "end":
			s.endCall(ctx, "client_ended")
			return
		case "connect_failed":
			reason := msg.Reason
			if reason == "" {
				reason = billing.ReasonConnectionFailed
			}
			s.failCall(ctx, reason)
			return
		default:
			s.logger.Debug("ignoring unknown client message",
				zap.String("session_id", call.SessionID), zap.String("type", msg.Type))
		}
	}
}

func (s *Session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-s.send:
			if err := s.write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := s.write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Session) write(messageType int, payload []byte) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteMessage(messageType, payload)
}

// billingLoop re-issues minute-boundary checks on a fixed cadence. A tick
// dropped by the in-flight guard is recovered by the next one.
func (s *Session) billingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	call := s.activeCall()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(call.StartedAt)
			err := s.calls.BillElapsed(ctx, call.SessionID, elapsed)
			switch {
			case err == nil:
				continue
			case errors.Is(err, service.ErrCallDurationLimit):
				s.push(serverEvent{
					Type:      eventCallEnded,
					SessionID: call.SessionID,
					Reason:    "max_duration_reached",
				})
			case errors.Is(err, billing.ErrInsufficientQuota):
				// Error event was already pushed by the ledger.
				s.push(serverEvent{
					Type:      eventCallEnded,
					SessionID: call.SessionID,
					Reason:    "insufficient_balance",
				})
			case errors.Is(err, service.ErrCallNotFound):
				return
			default:
				s.logger.Warn("billing tick failed",
					zap.String("session_id", call.SessionID), zap.Error(err))
				continue
			}
			s.endCall(ctx, "billing_stopped")
			return
		}
	}
}

func (s *Session) endCall(ctx context.Context, reason string) {
	s.endOnce.Do(func() {
		call := s.activeCall()
		elapsed := time.Since(call.StartedAt)
		if _, err := s.calls.EndCall(ctx, call.SessionID, elapsed); err != nil && !errors.Is(err, service.ErrCallNotFound) {
			s.logger.Warn("failed to end call",
				zap.String("session_id", call.SessionID), zap.Error(err))
		}
		s.push(serverEvent{
			Type:      eventCallEnded,
			SessionID: call.SessionID,
			Reason:    reason,
		})
		s.close()
	})
}

func (s *Session) failCall(ctx context.Context, reason string) {
	s.endOnce.Do(func() {
		call := s.activeCall()
		if _, err := s.calls.FailCall(ctx, call.SessionID, reason); err != nil && !errors.Is(err, service.ErrCallNotFound) {
			s.logger.Warn("failed to settle failed call",
				zap.String("session_id", call.SessionID), zap.Error(err))
		}
		s.push(serverEvent{
			Type:      eventCallEnded,
			SessionID: call.SessionID,
			Reason:    reason,
		})
		s.close()
	})
}

func (s *Session) close() {
	// Give queued events a moment to flush before tearing the socket down.
	time.AfterFunc(time.Second, func() {
		_ = s.conn.Close()
	})
}
