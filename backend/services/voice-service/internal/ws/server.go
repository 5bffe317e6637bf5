package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"voicecoach/backend/libs/auth"
	"voicecoach/backend/services/voice-service/internal/billing"
	"voicecoach/backend/services/voice-service/internal/service"
)

// Server upgrades HTTP connections to per-call WebSocket sessions.
type Server struct {
	calls        *service.CallsService
	tokens       *auth.TokenService
	logger       *zap.Logger
	tickInterval time.Duration
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// NewServer builds ws server.
func NewServer(calls *service.CallsService, tokens *auth.TokenService, tickInterval, writeTimeout time.Duration, logger *zap.Logger) *Server {
	if tickInterval <= 0 {
		tickInterval = 10 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &Server{
		calls:        calls,
		tokens:       tokens,
		logger:       logger,
		tickInterval: tickInterval,
		writeTimeout: writeTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWS is the HTTP handler for /ws/voice. A session_id query parameter
// resumes a dropped call; otherwise a new call is started, which pre-deducts
// the first minute before the session goes live.
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	tokenStr := auth.BearerToken(r)
	if tokenStr == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	claims, err := s.tokens.ValidateToken(tokenStr)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	featureKey := r.URL.Query().Get("feature_key")
	coachKey := r.URL.Query().Get("coach_key")
	if sessionID == "" && featureKey == "" {
		http.Error(w, "feature_key is required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	session := newSession(conn, s.calls, s.tickInterval, s.writeTimeout, s.logger)

	var call *service.ActiveCall
	if sessionID != "" {
		call, err = s.calls.ReconnectCall(r.Context(), sessionID, claims.UserID, session)
	} else {
		call, err = s.calls.StartCall(r.Context(), service.StartCallInput{
			UserID:     claims.UserID,
			FeatureKey: featureKey,
			CoachKey:   coachKey,
			Events:     session,
		})
	}
	if err != nil {
		s.rejectSession(conn, err)
		return
	}
	session.setCall(call)

	go session.run(context.Background())
	s.logger.Info("voice session connected",
		zap.String("session_id", call.SessionID),
		zap.Int64("user_id", claims.UserID),
	)
}

func (s *Server) rejectSession(conn *websocket.Conn, err error) {
	reason := "call_setup_failed"
	switch {
	case errors.Is(err, billing.ErrInsufficientQuota):
		reason = "insufficient_balance"
	case errors.Is(err, service.ErrNoRecoveryState):
		reason = "no_recovery_state"
	case errors.Is(err, service.ErrCallNotFound):
		reason = "call_not_found"
	}
	s.logger.Warn("rejected voice session", zap.String("reason", reason), zap.Error(err))

	data := []byte(`{"type":"error","reason":"` + reason + `"}`)
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.Close()
}
