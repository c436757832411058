// Package redis holds the Redis-backed supporting infrastructure: the
// participant heartbeat sink and the leaderboard read cache.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// HeartbeatStore records participant liveness as TTL keys. Writes are
// best-effort and last-write-wins; nothing in the submission path depends on
// them.
type HeartbeatStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHeartbeatStore(client *redis.Client, ttl time.Duration) *HeartbeatStore {
	return &HeartbeatStore{client: client, ttl: ttl}
}

func (h *HeartbeatStore) Beat(ctx context.Context, participantID string, at time.Time) error {
	return h.client.Set(ctx, h.key(participantID), at.Format(time.RFC3339Nano), h.ttl).Err()
}

// LastSeen returns the most recent heartbeat, or ok=false when the key has
// expired or was never set.
func (h *HeartbeatStore) LastSeen(ctx context.Context, participantID string) (time.Time, bool, error) {
	raw, err := h.client.Get(ctx, h.key(participantID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	at, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

func (h *HeartbeatStore) key(participantID string) string {
	return "participant:hb:" + participantID
}
