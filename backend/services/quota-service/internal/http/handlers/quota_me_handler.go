package handlers

import (
	"errors"
	"net/http"

	"voicecoach/backend/libs/auth"
	"voicecoach/backend/services/quota-service/internal/service"
)

// NewQuotaMeHandler returns GET /quota/me handler.
func NewQuotaMeHandler(svc *service.QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		account, err := svc.AccountForUser(r.Context(), userID)
		if errors.Is(err, service.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load account")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"remaining_quota": account.RemainingQuota,
			"total_quota":     account.TotalQuota,
		})
	}
}
