package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Idempotency remembers which order a client key produced.
type Idempotency struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewIdempotency(rdb redis.Cmdable, ttl time.Duration) *Idempotency {
	if ttl <= 0 {
		ttl = TTLIdempotency
	}
	return &Idempotency{rdb: rdb, ttl: ttl}
}

func (s *Idempotency) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	id, err := s.rdb.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Lock marks key as in flight. It reports false when another request holds it.
func (s *Idempotency) Lock(ctx context.Context, scope, key string) (bool, error) {
	return s.rdb.SetNX(ctx, fmt.Sprintf(KeyIdemOrderLock, scope, key), "1", TTLIdemLock).Result()
}

func (s *Idempotency) Unlock(ctx context.Context, scope, key string) error {
	return s.rdb.Del(ctx, fmt.Sprintf(KeyIdemOrderLock, scope, key)).Err()
}

func (s *Idempotency) Remember(ctx context.Context, scope, key, orderID string) error {
	return s.rdb.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, scope, key), orderID, s.ttl).Err()
}
