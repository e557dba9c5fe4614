package matchcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisRecordCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisRecordCache builds a look-aside cache of latest records keyed by
// match-key hash. SQLite stays the source of truth; this just keeps hot
// lookups off the disk.
func NewRedisRecordCache(addr, password string, db int, ttl time.Duration, prefix string) (RecordCache, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	if ttl <= 0 {
		ttl = 240 * time.Hour
	}
	if prefix == "" {
		prefix = "match_record"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &redisRecordCache{client: client, ttl: ttl, prefix: prefix}, nil
}

func (c *redisRecordCache) key(hash string) string {
	return fmt.Sprintf("%s:%s", c.prefix, hash)
}

func (c *redisRecordCache) Get(ctx context.Context, hash string) (*MatchRecord, bool, error) {
	if c == nil || c.client == nil {
		return nil, false, nil
	}
	raw, err := c.client.Get(ctx, c.key(hash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var rec MatchRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

func (c *redisRecordCache) Set(ctx context.Context, hash string, rec MatchRecord) error {
	if c == nil || c.client == nil {
		return nil
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(hash), payload, c.ttl).Err()
}

// Close releases the redis connection.
func (c *redisRecordCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
