package captcha

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-phone-verify/internal/application/challenge"
	"github.com/google/uuid"
)

// Bypass is a development surface that passes every check immediately.
type Bypass struct {
	mu     sync.Mutex
	tokens map[string]string // handle -> mount id
}

func NewBypass() *Bypass {
	slog.Warn("captcha: bypass surface in use, challenge checks are disabled")
	return &Bypass{tokens: make(map[string]string)}
}

func (b *Bypass) Mount(string) {}

func (b *Bypass) Unmount(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for h, m := range b.tokens {
		if m == id {
			delete(b.tokens, h)
		}
	}
}

func (b *Bypass) Render(_ context.Context, mountID string, cfg challenge.RenderConfig, l challenge.Listener) (string, error) {
	handle := uuid.NewString()
	b.mu.Lock()
	b.tokens[handle] = mountID
	b.mu.Unlock()
	resp := cfg.Response
	if resp == "" {
		resp = "bypass-" + handle
	}
	l.OnTokenReady(resp)
	return handle, nil
}

func (b *Bypass) Valid(handle string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.tokens[handle]
	return ok
}

func (b *Bypass) Clear(handle string) {
	b.mu.Lock()
	delete(b.tokens, handle)
	b.mu.Unlock()
}
