package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/redis/go-redis/v9"
)

// putSnapshotScript writes the snapshot unless the stored one has a higher
// price, so a late writer never rolls the cached price back.
var putSnapshotScript = redis.NewScript(`
-- KEYS[1]: auction:snapshot:{item_id}
-- ARGV[1]: price, ARGV[2]: snapshot json, ARGV[3]: ttl ms
local cur = redis.call('HGET', KEYS[1], 'price')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'price', ARGV[1], 'data', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

// SnapshotCache keeps the public auction snapshot in Redis.
type SnapshotCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotCache(rdb *redis.Client, ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = TTLSnapshot
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl}
}

var _ auction.SnapshotCache = (*SnapshotCache)(nil)

func (c *SnapshotCache) Put(ctx context.Context, s auction.Snapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	key := fmt.Sprintf(KeySnapshot, s.ItemID)
	_, err = putSnapshotScript.Run(ctx, c.rdb, []string{key}, s.CurrentPrice, string(b), c.ttl.Milliseconds()).Int()
	return err
}

func (c *SnapshotCache) Get(ctx context.Context, itemID string) (auction.Snapshot, bool, error) {
	var s auction.Snapshot
	raw, err := c.rdb.HGet(ctx, fmt.Sprintf(KeySnapshot, itemID), "data").Result()
	if errors.Is(err, redis.Nil) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return s, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, true, nil
}
