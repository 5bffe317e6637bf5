package handlers

import (
	"net/http"

	"voicecoach/backend/libs/auth"
	"voicecoach/backend/services/voice-service/internal/service"
)

// NewCallsMeHandler returns GET /calls/me handler.
func NewCallsMeHandler(svc *service.CallsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := auth.UserIDFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		calls, err := svc.CallsForUser(r.Context(), userID, 50)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to load calls")
			return
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"calls": calls,
		})
	}
}
