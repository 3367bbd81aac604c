package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DetailCache keeps the last known user/book details in Redis so that
// enrichment can degrade to slightly stale data instead of bare ids when
// a peer is down. Cache errors are never surfaced; a miss just means the
// caller falls back to id-only.
type DetailCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDetailCache(rdb *redis.Client, ttl time.Duration) *DetailCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &DetailCache{rdb: rdb, ttl: ttl}
}

func userKey(id int64) string { return fmt.Sprintf("peer:user:%d", id) }
func bookKey(id int64) string { return fmt.Sprintf("peer:book:%d", id) }

func (c *DetailCache) SetUser(ctx context.Context, u *UserDetail) {
	b, _ := json.Marshal(u)
	_ = c.rdb.Set(ctx, userKey(u.ID), b, c.ttl).Err()
}

func (c *DetailCache) GetUser(ctx context.Context, id int64) (*UserDetail, error) {
	b, err := c.rdb.Get(ctx, userKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var u UserDetail
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (c *DetailCache) SetBook(ctx context.Context, b *BookDetail) {
	buf, _ := json.Marshal(b)
	_ = c.rdb.Set(ctx, bookKey(b.ID), buf, c.ttl).Err()
}

func (c *DetailCache) GetBook(ctx context.Context, id int64) (*BookDetail, error) {
	buf, err := c.rdb.Get(ctx, bookKey(id)).Bytes()
	if err != nil {
		return nil, err
	}
	var b BookDetail
	if err := json.Unmarshal(buf, &b); err != nil {
		return nil, err
	}
	return &b, nil
}
