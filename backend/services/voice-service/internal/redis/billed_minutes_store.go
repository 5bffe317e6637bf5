package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// BilledCall is the externally persisted billing high-water mark for one call.
// It is the source of truth the ledger restores from after a reconnect.
type BilledCall struct {
	SessionID     string `json:"session_id"`
	UserID        int64  `json:"user_id"`
	FeatureKey    string `json:"feature_key"`
	BilledMinutes int    `json:"billed_minutes"`
	StartedAtUnix int64  `json:"started_at_unix"`
}

// Store persists billed minute counts per call session.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(sessionID string) string {
	return fmt.Sprintf("calls:billed:%s", sessionID)
}

// Save writes the current billed minute count.
func (s *Store) Save(ctx context.Context, call BilledCall) error {
	data, err := json.Marshal(call)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(call.SessionID), data, s.ttl).Err()
}

// Get returns the persisted counter for a session.
func (s *Store) Get(ctx context.Context, sessionID string) (*BilledCall, error) {
	result, err := s.client.Get(ctx, s.key(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	var call BilledCall
	if err := json.Unmarshal([]byte(result), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// Delete removes the counter once the call is fully settled.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, s.key(sessionID)).Err()
}
