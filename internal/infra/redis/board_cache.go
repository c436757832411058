package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"daily-quiz-service/internal/domain"
)

// BoardSource computes standings from the durable store. The contest service
// satisfies this.
type BoardSource interface {
	Leaderboard(ctx context.Context, date string) (domain.Leaderboard, error)
	CurrentEpoch(ctx context.Context) (int64, error)
}

// BoardCache serves leaderboard reads from Redis with a short TTL, falling
// back to the source on a miss. Keys carry the epoch, so a reset naturally
// stops hitting the prior season's snapshots.
type BoardCache struct {
	client *redis.Client
	source BoardSource
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
}

func NewBoardCache(client *redis.Client, source BoardSource, ttl time.Duration) *BoardCache {
	return &BoardCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *BoardCache) Leaderboard(ctx context.Context, date string) (domain.Leaderboard, error) {
	epoch, err := c.source.CurrentEpoch(ctx)
	if err != nil {
		return domain.Leaderboard{}, err
	}
	key := c.key(epoch, date)

	if board, ok := c.lookup(ctx, key); ok {
		return board, nil
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Re-check in case another goroutine filled it.
		if board, ok := c.lookup(ctx, key); ok {
			return board, nil
		}

		board, err := c.source.Leaderboard(ctx, date)
		if err != nil {
			return domain.Leaderboard{}, err
		}

		if raw, err := json.Marshal(board); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttlWithJitter()).Err()
		}
		return board, nil
	})
	if err != nil {
		return domain.Leaderboard{}, err
	}
	return result.(domain.Leaderboard), nil
}

func (c *BoardCache) lookup(ctx context.Context, key string) (domain.Leaderboard, bool) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return domain.Leaderboard{}, false
	}
	var board domain.Leaderboard
	if err := json.Unmarshal(raw, &board); err != nil {
		return domain.Leaderboard{}, false
	}
	return board, true
}

func (c *BoardCache) key(epoch int64, date string) string {
	if date == "" {
		date = "all"
	}
	return fmt.Sprintf("board:%d:%s", epoch, date)
}

func (c *BoardCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
