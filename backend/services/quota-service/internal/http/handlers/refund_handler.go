package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"voicecoach/backend/services/quota-service/internal/service"
)

// RefundHandler handles credits from other services.
type RefundHandler struct {
	service *service.QuotaService
	logger  *zap.Logger
}

// NewRefundHandler builds handler.
func NewRefundHandler(svc *service.QuotaService, logger *zap.Logger) *RefundHandler {
	return &RefundHandler{service: svc, logger: logger}
}

type refundRequest struct {
	UserID     int64  `json:"user_id"`
	FeatureKey string `json:"feature_key"`
	Amount     int64  `json:"amount"`
	SessionID  string `json:"session_id"`
	Reason     string `json:"reason"`
}

type refundResponse struct {
	RefundedAmount int64 `json:"refunded_amount"`
	RemainingQuota int64 `json:"remaining_quota"`
}

// ServeHTTP handles POST /internal/quota/refund.
func (h *RefundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	out, err := h.service.Refund(r.Context(), service.RefundInput{
		UserID:     req.UserID,
		FeatureKey: req.FeatureKey,
		Amount:     req.Amount,
		SessionID:  req.SessionID,
		Reason:     req.Reason,
	})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	case errors.Is(err, service.ErrRefundExceedsDeducted):
		writeError(w, http.StatusBadRequest, "refund exceeds session deductions")
		return
	case errors.Is(err, service.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
		return
	default:
		h.logger.Error("refund failed", zap.Error(err), zap.Int64("user_id", req.UserID))
		writeError(w, http.StatusInternalServerError, "refund failed")
		return
	}

	writeJSON(w, http.StatusOK, refundResponse{
		RefundedAmount: out.RefundedAmount,
		RemainingQuota: out.RemainingQuota,
	})
}
