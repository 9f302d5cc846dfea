// Package ratelimit keeps one token bucket per key.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed is a per-key token-bucket limiter with stale-entry cleanup.
type Keyed struct {
	mu       sync.Mutex
	limiters map[string]*entry
	r        rate.Limit
	burst    int
	idle     time.Duration
	nowF     func() time.Time
	stop     chan struct{}
	once     sync.Once
}

// NewKeyed creates a limiter allowing r events/second per key with the given
// burst. Keys unused for idle are forgotten.
func NewKeyed(r rate.Limit, burst int, idle time.Duration) *Keyed {
	k := &Keyed{
		limiters: make(map[string]*entry),
		r:        r,
		burst:    burst,
		idle:     idle,
		nowF:     time.Now,
		stop:     make(chan struct{}),
	}
	go k.cleanup()
	return k
}

func (k *Keyed) get(key string) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.nowF()
	if v, ok := k.limiters[key]; ok {
		v.lastSeen = now
		return v.limiter
	}
	l := rate.NewLimiter(k.r, k.burst)
	k.limiters[key] = &entry{limiter: l, lastSeen: now}
	return l
}

// Allow reports whether an event for key may happen now.
func (k *Keyed) Allow(key string) bool {
	return k.get(key).AllowN(k.nowF(), 1)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}

// Stop ends the cleanup goroutine.
func (k *Keyed) Stop() {
	k.once.Do(func() { close(k.stop) })
}

func (k *Keyed) cleanup() {
	t := time.NewTicker(k.idle / 2)
	defer t.Stop()
	for {
		select {
		case <-k.stop:
			return
		case <-t.C:
			k.prune()
		}
	}
}

func (k *Keyed) prune() {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.nowF()
	for key, v := range k.limiters {
		if now.Sub(v.lastSeen) > k.idle {
			delete(k.limiters, key)
		}
	}
}
