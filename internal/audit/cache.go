package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

// StateCache keeps the latest session snapshot in Redis so read surfaces
// can serve state without touching the pipeline. Entries expire on their
// own when a session stops updating.
type StateCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewStateCache(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *StateCache {
	return &StateCache{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (c *StateCache) key(sessionID string) string {
	return c.prefix + sessionID
}

// Put stores the snapshot, refreshing the TTL.
func (c *StateCache) Put(ctx context.Context, snapshot models.Snapshot) error {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := c.client.Set(ctx, c.key(snapshot.SessionID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache snapshot: %w", err)
	}
	return nil
}

// Get returns the cached snapshot, or found=false when the session is
// unknown or expired.
func (c *StateCache) Get(ctx context.Context, sessionID string) (models.Snapshot, bool, error) {
	var snapshot models.Snapshot
	payload, err := c.client.Get(ctx, c.key(sessionID)).Bytes()
	if err == redis.Nil {
		return snapshot, false, nil
	}
	if err != nil {
		return snapshot, false, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		c.logger.Warn("discarding corrupt snapshot", zap.String("session_id", sessionID), zap.Error(err))
		return snapshot, false, nil
	}
	return snapshot, true, nil
}
