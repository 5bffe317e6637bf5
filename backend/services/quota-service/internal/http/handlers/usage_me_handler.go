package handlers

import (
	"net/http"
	"strconv"

	"voicecoach/backend/libs/auth"
	"voicecoach/backend/services/quota-service/internal/service"
)

// NewUsageMeHandler returns GET /usage/me handler.
func NewUsageMeHandler(svc *service.QuotaService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		days := 7
		if raw := r.URL.Query().Get("days"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 || parsed > 90 {
				writeError(w, http.StatusBadRequest, "invalid days parameter")
				return
			}
			days = parsed
		}

		records, summary, err := svc.UsageForUser(r.Context(), userID, 50, days)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load usage")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"records": records,
			"daily":   summary,
		})
	}
}
