// Package cache Redis 客户端与幂等键存储
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// NewRedisClient 创建 Redis 客户端并检查连通性
func NewRedisClient(addr, password string, db, poolSize int, log *zap.Logger) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
		PoolSize: poolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("Redis connected", zap.String("addr", addr))
	return rdb, nil
}

// Record 幂等键对应的首个响应
type Record struct {
	Pending     bool   `json:"pending"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// IdempotencyStore 幂等键存储
type IdempotencyStore interface {
	// Begin 抢占键；acquired=false 时返回已有记录
	Begin(ctx context.Context, key string, ttl time.Duration) (existing *Record, acquired bool, err error)
	Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// RedisIdempotencyStore 基于 SETNX 的实现
type RedisIdempotencyStore struct {
	rdb    *redis.Client
	prefix string
}

func NewRedisIdempotencyStore(rdb *redis.Client, prefix string) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb, prefix: prefix}
}

func (s *RedisIdempotencyStore) key(k string) string {
	return s.prefix + "idem:" + k
}

func (s *RedisIdempotencyStore) Begin(ctx context.Context, key string, ttl time.Duration) (*Record, bool, error) {
	pending, _ := json.Marshal(Record{Pending: true})
	ok, err := s.rdb.SetNX(ctx, s.key(key), pending, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("idempotency begin: %w", err)
	}
	if ok {
		return nil, true, nil
	}

	raw, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		// 键刚过期，重试一次抢占
		ok, err = s.rdb.SetNX(ctx, s.key(key), pending, ttl).Result()
		if err != nil {
			return nil, false, fmt.Errorf("idempotency begin: %w", err)
		}
		return nil, ok, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("idempotency lookup: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return &rec, false, nil
}

func (s *RedisIdempotencyStore) Complete(ctx context.Context, key string, rec Record, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, s.key(key), raw, ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}
