package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const recentKey = "audit:recent"

// RecentCache keeps a rolling window of recent audit entries in Redis for
// cheap reads. Entries expire with the storage backend's 30-day TTL.
type RecentCache struct {
	client *redis.Client
	ttl    time.Duration
	max    int64
}

// NewRecentCache constructs the cache. ttl defaults to 30 days, max to 1000
// retained entries.
func NewRecentCache(client *redis.Client, ttl time.Duration, max int64) *RecentCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	if max <= 0 {
		max = 1000
	}
	return &RecentCache{client: client, ttl: ttl, max: max}
}

// Write satisfies Sink: pushes the entry onto the recent window and refreshes
// the window TTL.
func (c *RecentCache) Write(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, recentKey, payload)
	pipe.LTrim(ctx, recentKey, 0, c.max-1)
	pipe.Expire(ctx, recentKey, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("audit: cache push: %w", err)
	}
	return nil
}

// Recent returns up to n most recent entries, newest first.
func (c *RecentCache) Recent(ctx context.Context, n int64) ([]Entry, error) {
	if n <= 0 {
		n = 50
	}
	raw, err := c.client.LRange(ctx, recentKey, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("audit: cache range: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
