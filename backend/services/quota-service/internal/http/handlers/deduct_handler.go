package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"voicecoach/backend/services/quota-service/internal/service"
)

// DeductHandler handles charges from other services.
type DeductHandler struct {
	service *service.QuotaService
	logger  *zap.Logger
}

// NewDeductHandler builds handler.
func NewDeductHandler(svc *service.QuotaService, logger *zap.Logger) *DeductHandler {
	return &DeductHandler{service: svc, logger: logger}
}

type deductRequest struct {
	UserID     int64  `json:"user_id"`
	FeatureKey string `json:"feature_key"`
	Source     string `json:"source"`
	Amount     int64  `json:"amount"`
	SessionID  string `json:"session_id"`
	Minute     int    `json:"minute"`
	DeductType string `json:"deduct_type"`
}

type deductResponse struct {
	Cost           int64 `json:"cost"`
	RemainingQuota int64 `json:"remaining_quota"`
	Skipped        bool  `json:"skipped"`
}

// ServeHTTP handles POST /internal/quota/deduct.
func (h *DeductHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req deductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id required")
		return
	}

	out, err := h.service.Deduct(r.Context(), service.DeductInput{
		UserID:     req.UserID,
		FeatureKey: req.FeatureKey,
		Source:     req.Source,
		Amount:     req.Amount,
		SessionID:  req.SessionID,
		Minute:     req.Minute,
		DeductType: req.DeductType,
	})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrInsufficientQuota):
		writeError(w, http.StatusPaymentRequired, "insufficient quota")
		return
	case errors.Is(err, service.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "account not found")
		return
	case errors.Is(err, service.ErrFeatureRequired):
		writeError(w, http.StatusBadRequest, "feature_key or amount required")
		return
	default:
		h.logger.Error("deduction failed", zap.Error(err), zap.Int64("user_id", req.UserID))
		writeError(w, http.StatusInternalServerError, "deduction failed")
		return
	}

	writeJSON(w, http.StatusOK, deductResponse{
		Cost:           out.Cost,
		RemainingQuota: out.RemainingQuota,
		Skipped:        out.Skipped,
	})
}
