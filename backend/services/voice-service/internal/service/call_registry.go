package service

import (
	"sync"
	"time"

	"voicecoach/backend/services/voice-service/internal/billing"
)

// ActiveCall keeps runtime info for a call in progress.
type ActiveCall struct {
	SessionID  string
	UserID     int64
	FeatureKey string
	CoachKey   string
	Ledger     *billing.Ledger
	StartedAt  time.Time
}

// CallRegistry stores active calls by session ID.
type CallRegistry struct {
	mu   sync.RWMutex
	data map[string]*ActiveCall
}

// NewCallRegistry returns initialized registry.
func NewCallRegistry() *CallRegistry {
	return &CallRegistry{
		data: make(map[string]*ActiveCall),
	}
}

// Add stores an active call.
func (r *CallRegistry) Add(call *ActiveCall) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[call.SessionID] = call
}

// Get returns the call and a bool.
func (r *CallRegistry) Get(sessionID string) (*ActiveCall, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	call, ok := r.data[sessionID]
	return call, ok
}

// Remove drops the call from the registry.
func (r *CallRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, sessionID)
}

// Snapshot returns a copy of the active call list.
func (r *CallRegistry) Snapshot() []ActiveCall {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]ActiveCall, 0, len(r.data))
	for _, call := range r.data {
		result = append(result, *call)
	}
	return result
}
