package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-phone-verify/internal/domain"
	"github.com/go-phone-verify/internal/pkg/deadline"
	"github.com/go-phone-verify/internal/pkg/ttlcache"
	"golang.org/x/sync/singleflight"
)

const statusVerified = "verified"

// Config controls one Lifecycle.
type Config struct {
	// Scope namespaces the mount point and cache keys, usually the identity id.
	Scope         string
	Domain        string
	RenderTimeout time.Duration
	StatusTTL     time.Duration
	ResponseTTL   time.Duration
}

func (c Config) mountID() string     { return "challenge-container:" + c.Scope }
func (c Config) statusKey() string   { return StatusKey(c.Scope) }
func (c Config) responseKey() string { return ResponseKey(c.Scope) }

// StatusKey is the cache key of the verified marker for scope.
func StatusKey(scope string) string { return "challenge_verification_status:" + scope }

// ResponseKey is the cache key of the raw challenge response for scope.
func ResponseKey(scope string) string { return "challenge_raw_response:" + scope }

// Lifecycle owns at most one challenge token. All fields are guarded by mu;
// surface calls are made without holding it.
type Lifecycle struct {
	surface   Surface
	cfg       Config
	status    ttlcache.Typed[string]
	responses ttlcache.Typed[string]
	group     singleflight.Group

	mu       sync.Mutex
	token    Token
	gen      uint64
	restored bool
	verified bool
	mounted  bool
	offered  string
	rendered string // handle of a render that has returned but not yet been adopted
}

// New builds a Lifecycle and restores a cached token for cfg.Scope, if any.
func New(ctx context.Context, surface Surface, store ttlcache.Store, cfg Config) *Lifecycle {
	l := &Lifecycle{
		surface:   surface,
		cfg:       cfg,
		status:    ttlcache.NewTyped[string](store),
		responses: ttlcache.NewTyped[string](store),
	}
	if s, ok := l.status.Get(ctx, cfg.statusKey()); ok && s == statusVerified {
		l.verified = true
	}
	if resp, ok := l.responses.Get(ctx, cfg.responseKey()); ok && resp != "" {
		l.token = Token{State: Ready, RawResponse: resp}
		l.restored = true
	}
	return l
}

// State returns the current token state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.token.State
}

// Verified reports whether a challenge was passed within the status TTL.
func (l *Lifecycle) Verified() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verified
}

// Offer stores a client-produced response to be used by the next render.
func (l *Lifecycle) Offer(response string) {
	l.mu.Lock()
	l.offered = response
	l.mu.Unlock()
}

// Acquire returns a Ready token. Concurrent callers share one render. A render
// that misses RenderTimeout yields (nil, nil) so the caller may retry.
func (l *Lifecycle) Acquire(ctx context.Context) (*Token, error) {
	if t, ok := l.current(); ok {
		return t, nil
	}
	// The shared render outlives any single caller; RenderTimeout bounds it.
	renderCtx := context.WithoutCancel(ctx)
	ch := l.group.DoChan(l.cfg.mountID(), func() (interface{}, error) {
		return l.render(renderCtx)
	})
	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return nil, res.Err
	}
	t, _ := res.Val.(*Token)
	if t == nil {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (l *Lifecycle) current() (*Token, bool) {
	l.mu.Lock()
	t := l.token
	restored := l.restored
	pending := l.offered != ""
	l.mu.Unlock()

	if t.State != Ready || pending {
		return nil, false
	}
	if restored || (t.Handle != "" && l.surface.Valid(t.Handle)) {
		return &t, true
	}
	return nil, false
}

func (l *Lifecycle) render(ctx context.Context) (*Token, error) {
	if t, ok := l.current(); ok {
		return t, nil
	}
	l.mu.Lock()
	stale := l.token.Handle
	l.gen++
	gen := l.gen
	l.token = Token{State: Initializing}
	l.restored = false
	l.rendered = ""
	l.mounted = true
	offered := l.offered
	l.offered = ""
	l.mu.Unlock()

	if stale != "" {
		l.surface.Clear(stale)
	}
	mountID := l.cfg.mountID()
	l.surface.Mount(mountID)

	lis := &listener{l: l, gen: gen}
	rc := RenderConfig{Invisible: true, Response: offered}
	handle, err := deadline.Run(ctx, l.cfg.RenderTimeout, func(ctx context.Context) (string, error) {
		h, err := l.surface.Render(ctx, mountID, rc, lis)
		if err != nil {
			return "", err
		}
		l.mu.Lock()
		live := l.gen == gen
		if live {
			l.rendered = h
		}
		l.mu.Unlock()
		if !live {
			l.surface.Clear(h)
		}
		return h, nil
	})

	switch {
	case err == nil:
		return l.adopt(gen, handle)
	case deadline.IsTimeout(err):
		l.fail(gen)
		slog.Debug("challenge: render timed out", "mount", mountID, "timeout", l.cfg.RenderTimeout)
		return nil, nil
	case errors.Is(err, ErrConfiguration):
		l.fail(gen)
		return nil, &domain.VerificationError{
			Kind: domain.ErrConfiguration,
			Hint: fmt.Sprintf("the challenge provider rejected domain %q: add it to the allowed hostnames and check CAPTCHA_SITE_KEY and CAPTCHA_SECRET", l.cfg.Domain),
			Err:  err,
		}
	default:
		l.fail(gen)
		return nil, fmt.Errorf("challenge: render: %w", err)
	}
}

func (l *Lifecycle) adopt(gen uint64, handle string) (*Token, error) {
	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		l.surface.Clear(handle)
		return nil, nil
	}
	l.rendered = ""
	l.token.Handle = handle
	if l.token.State == Initializing {
		l.token.State = Ready
	}
	t := l.token
	l.mu.Unlock()

	if t.State != Ready {
		return nil, fmt.Errorf("challenge: token %s after render", t.State)
	}
	if t.RawResponse != "" {
		l.persist(t.RawResponse)
	}
	return &t, nil
}

// fail moves generation gen to Failed and drops the cached response and
// status. A handle the render delivers later is cleared by the render
// goroutine, and callbacks of that generation are ignored.
func (l *Lifecycle) fail(gen uint64) {
	l.mu.Lock()
	if l.gen != gen {
		l.mu.Unlock()
		return
	}
	l.gen++
	orphan := l.rendered
	l.rendered = ""
	l.token = Token{State: Failed}
	l.verified = false
	l.mu.Unlock()

	if orphan != "" {
		l.surface.Clear(orphan)
	}
	l.forget(true)
}

func (l *Lifecycle) persist(response string) {
	ctx := context.Background()
	l.responses.Set(ctx, l.cfg.responseKey(), response, l.cfg.ResponseTTL)
	l.status.Set(ctx, l.cfg.statusKey(), statusVerified, l.cfg.StatusTTL)
}

func (l *Lifecycle) forget(status bool) {
	ctx := context.Background()
	l.responses.Delete(ctx, l.cfg.responseKey())
	if status {
		l.status.Delete(ctx, l.cfg.statusKey())
	}
}

// Release tears down the token and the mount point. Safe to call repeatedly.
func (l *Lifecycle) Release() {
	l.mu.Lock()
	handle := l.token.Handle
	orphan := l.rendered
	mounted := l.mounted
	l.gen++
	l.token = Token{}
	l.rendered = ""
	l.restored = false
	l.mounted = false
	l.offered = ""
	l.mu.Unlock()

	if handle != "" {
		l.surface.Clear(handle)
	}
	if orphan != "" && orphan != handle {
		l.surface.Clear(orphan)
	}
	if mounted {
		l.surface.Unmount(l.cfg.mountID())
	}
}

// listener is bound to one token generation; callbacks from an older
// generation are dropped.
type listener struct {
	l   *Lifecycle
	gen uint64
}

func (c *listener) OnTokenReady(response string) {
	l := c.l
	l.mu.Lock()
	if l.gen != c.gen {
		l.mu.Unlock()
		return
	}
	l.token.RawResponse = response
	if l.token.State == Initializing || l.token.State == Ready {
		l.token.State = Ready
	}
	l.verified = true
	adopted := l.token.Handle != ""
	l.mu.Unlock()

	// Before adoption the response is persisted by adopt.
	if adopted {
		l.persist(response)
	}
}

func (c *listener) OnExpired() {
	l := c.l
	l.mu.Lock()
	if l.gen != c.gen {
		l.mu.Unlock()
		return
	}
	l.token.State = Expired
	l.token.RawResponse = ""
	l.mu.Unlock()
	l.forget(false)
}

func (c *listener) OnError(err error) {
	l := c.l
	l.mu.Lock()
	if l.gen != c.gen {
		l.mu.Unlock()
		return
	}
	l.token.State = Failed
	l.token.RawResponse = ""
	l.verified = false
	l.mu.Unlock()
	slog.Warn("challenge: token error", "mount", l.cfg.mountID(), "err", err)
	l.forget(true)
}
