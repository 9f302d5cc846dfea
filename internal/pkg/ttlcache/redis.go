package ttlcache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps entries in Redis, relying on key expiry for TTLs.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore returns a store that namespaces every key with prefix.
func NewRedisStore(rdb *redis.Client, prefix string) *RedisStore {
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		slog.Warn("ttlcache: redis set failed", "key", key, "err", err)
	}
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("ttlcache: redis get failed", "key", key, "err", err)
		}
		return nil, false
	}
	return b, true
}

func (s *RedisStore) Delete(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, s.key(key)).Err(); err != nil {
		slog.Warn("ttlcache: redis delete failed", "key", key, "err", err)
	}
}
