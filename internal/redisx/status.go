package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-sales-orders/internal/orders"
	"github.com/redis/go-redis/v9"
)

type cachedStatus struct {
	Status    orders.Status `json:"status"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// StatusCache keeps the latest order status for fast reads. The database
// stays the source of truth.
type StatusCache struct {
	rdb redis.Cmdable
	ttl time.Duration
	now func() time.Time
}

var _ orders.StatusCache = (*StatusCache)(nil)

func NewStatusCache(rdb redis.Cmdable, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = TTLStatusCache
	}
	return &StatusCache{rdb: rdb, ttl: ttl, now: time.Now}
}

func (c *StatusCache) SetStatus(ctx context.Context, orderID string, s orders.Status) error {
	b, err := json.Marshal(cachedStatus{Status: s, UpdatedAt: c.now().UTC()})
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, c.ttl).Err()
}

func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (orders.Status, bool, error) {
	raw, err := c.rdb.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	var cs cachedStatus
	if err := json.Unmarshal(raw, &cs); err != nil {
		return "", false, fmt.Errorf("decode cached status: %w", err)
	}
	return cs.Status, true, nil
}
