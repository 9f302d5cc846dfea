package ttlcache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// Typed stores values of T as JSON in an underlying Store.
type Typed[T any] struct {
	store Store
}

func NewTyped[T any](store Store) Typed[T] {
	return Typed[T]{store: store}
}

// Set encodes value and stores it under key for ttl.
func (c Typed[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) {
	b, err := json.Marshal(value)
	if err != nil {
		slog.Warn("ttlcache: encode failed", "key", key, "err", err)
		return
	}
	c.store.Set(ctx, key, b, ttl)
}

// Get returns the value under key. A value that no longer decodes into T is
// treated as a miss and evicted.
func (c Typed[T]) Get(ctx context.Context, key string) (T, bool) {
	var zero T
	b, ok := c.store.Get(ctx, key)
	if !ok {
		return zero, false
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		slog.Warn("ttlcache: dropping undecodable entry", "key", key, "err", err)
		c.store.Delete(ctx, key)
		return zero, false
	}
	return v, true
}

func (c Typed[T]) Delete(ctx context.Context, key string) {
	c.store.Delete(ctx, key)
}
