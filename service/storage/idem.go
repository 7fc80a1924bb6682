package storage

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const idemPrefix = "mot:idem:"

// RedisIdem 已完成请求记录，key: mot:idem:<requestId>，TTL 控制有效期
type RedisIdem struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func NewRedisIdem(rdb redis.UniversalClient, defaultTTL time.Duration) *RedisIdem {
	if defaultTTL <= 0 {
		defaultTTL = 24 * time.Hour
	}
	return &RedisIdem{rdb: rdb, ttl: defaultTTL}
}

func idemKey(requestID string) string { return idemPrefix + requestID }

func (s *RedisIdem) Seen(ctx context.Context, requestID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, idemKey(requestID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark SETNX，已存在时保留原 TTL
func (s *RedisIdem) Mark(ctx context.Context, requestID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	return s.rdb.SetNX(ctx, idemKey(requestID), time.Now().UTC().Format(time.RFC3339), ttl).Err()
}
