package handlers

import (
	"net/http"
	"time"

	"voicecoach/backend/services/voice-service/internal/service"
)

type activeCallView struct {
	SessionID        string    `json:"session_id"`
	UserID           int64     `json:"user_id"`
	FeatureKey       string    `json:"feature_key"`
	CoachKey         string    `json:"coach_key,omitempty"`
	StartedAt        time.Time `json:"started_at"`
	LastBilledMinute int       `json:"last_billed_minute"`
	TotalDeducted    int64     `json:"total_deducted"`
}

// NewActiveCallsHandler returns GET /internal/calls/active handler. Meant for
// operational inspection from the private network.
func NewActiveCallsHandler(svc *service.CallsService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls := svc.ActiveCalls()

		views := make([]activeCallView, 0, len(calls))
		for _, call := range calls {
			state := call.Ledger.State()
			views = append(views, activeCallView{
				SessionID:        call.SessionID,
				UserID:           call.UserID,
				FeatureKey:       call.FeatureKey,
				CoachKey:         call.CoachKey,
				StartedAt:        call.StartedAt,
				LastBilledMinute: state.LastBilledMinute,
				TotalDeducted:    state.TotalDeducted,
			})
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"active_calls": views,
			"count":        len(views),
		})
	}
}
