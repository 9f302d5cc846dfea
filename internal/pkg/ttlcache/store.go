// Package ttlcache is a small key/value cache whose entries expire.
//
// Backends never return errors to callers: a failed write is dropped and a
// failed read is a miss. Failures are logged with slog.
package ttlcache

import (
	"context"
	"time"
)

// Store is a byte-oriented cache. A zero or negative ttl means the entry
// never expires.
type Store interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Get(ctx context.Context, key string) ([]byte, bool)
	Delete(ctx context.Context, key string)
}

// Entry is a cached value with its absolute expiry.
type Entry struct {
	Value     []byte
	ExpiresAt time.Time // zero means no expiry
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
