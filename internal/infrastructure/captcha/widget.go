// Package captcha provides challenge surfaces backed by a siteverify endpoint.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-phone-verify/internal/application/challenge"
	"github.com/google/uuid"
)

const defaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Config configures a Widget.
type Config struct {
	SiteKey     string
	Secret      string
	VerifyURL   string
	Hostnames   []string // accepted hostnames; empty accepts any
	TokenTTL    time.Duration
	HTTPTimeout time.Duration
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

type token struct {
	mountID  string
	listener challenge.Listener
	timer    *time.Timer
}

// Widget verifies client challenge responses server-side. Tokens expire
// after TokenTTL and are reported through their listener.
type Widget struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	mounts map[string]struct{}
	tokens map[string]*token
}

func NewWidget(cfg Config) *Widget {
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = defaultVerifyURL
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 2 * time.Minute
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 5 * time.Second
	}
	return &Widget{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.HTTPTimeout},
		mounts: make(map[string]struct{}),
		tokens: make(map[string]*token),
	}
}

func (w *Widget) Mount(id string) {
	w.mu.Lock()
	w.mounts[id] = struct{}{}
	w.mu.Unlock()
}

// Unmount removes the mount point and every token rendered into it.
func (w *Widget) Unmount(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.mounts, id)
	for h, t := range w.tokens {
		if t.mountID == id {
			t.timer.Stop()
			delete(w.tokens, h)
		}
	}
}

func (w *Widget) Valid(handle string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.tokens[handle]
	return ok
}

func (w *Widget) Clear(handle string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.tokens[handle]; ok {
		t.timer.Stop()
		delete(w.tokens, handle)
	}
}

// Render registers a token in mountID. When cfg carries a client response it
// is verified before Render returns; a passed check fires OnTokenReady.
func (w *Widget) Render(ctx context.Context, mountID string, cfg challenge.RenderConfig, l challenge.Listener) (string, error) {
	if w.cfg.SiteKey == "" || w.cfg.Secret == "" {
		return "", fmt.Errorf("captcha: site key or secret missing: %w", challenge.ErrConfiguration)
	}
	w.mu.Lock()
	_, mounted := w.mounts[mountID]
	w.mu.Unlock()
	if !mounted {
		return "", fmt.Errorf("captcha: mount point %q not found", mountID)
	}

	handle := uuid.NewString()
	w.mu.Lock()
	w.tokens[handle] = &token{
		mountID:  mountID,
		listener: l,
		timer:    time.AfterFunc(w.cfg.TokenTTL, func() { w.expire(handle) }),
	}
	w.mu.Unlock()

	if cfg.Response == "" {
		return handle, nil
	}
	ok, err := w.verify(ctx, cfg.Response)
	if err != nil {
		w.Clear(handle)
		return "", err
	}
	if ok {
		l.OnTokenReady(cfg.Response)
	}
	return handle, nil
}

func (w *Widget) expire(handle string) {
	w.mu.Lock()
	t, ok := w.tokens[handle]
	delete(w.tokens, handle)
	w.mu.Unlock()
	if ok {
		t.listener.OnExpired()
	}
}

// verify posts response to the siteverify endpoint. A rejected response is
// (false, nil); errors are reserved for transport and configuration failures.
func (w *Widget) verify(ctx context.Context, response string) (bool, error) {
	form := url.Values{"secret": {w.cfg.Secret}, "response": {response}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := w.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("captcha: siteverify: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("captcha: siteverify status=%d body=%s", resp.StatusCode, string(b))
	}

	var sv siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&sv); err != nil {
		return false, fmt.Errorf("captcha: decode siteverify: %w", err)
	}
	for _, code := range sv.ErrorCodes {
		if code == "missing-input-secret" || code == "invalid-input-secret" {
			return false, fmt.Errorf("captcha: %s: %w", code, challenge.ErrConfiguration)
		}
	}
	if !sv.Success {
		slog.Debug("captcha: response rejected", "codes", sv.ErrorCodes)
		return false, nil
	}
	if !w.hostnameAllowed(sv.Hostname) {
		return false, fmt.Errorf("captcha: hostname %q not allowed: %w", sv.Hostname, challenge.ErrConfiguration)
	}
	return true, nil
}

func (w *Widget) hostnameAllowed(host string) bool {
	if len(w.cfg.Hostnames) == 0 {
		return true
	}
	for _, h := range w.cfg.Hostnames {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}
