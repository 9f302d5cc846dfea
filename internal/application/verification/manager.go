package verification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-phone-verify/internal/application/challenge"
	"github.com/go-phone-verify/internal/domain"
	"github.com/go-phone-verify/internal/pkg/ttlcache"
)

// ManagerConfig holds the settings shared by every session.
type ManagerConfig struct {
	Domain          string
	DefaultPrefix   string
	RenderTimeout   time.Duration
	DispatchTimeout time.Duration
	ResendCooldown  time.Duration
	VerifiedTTL     time.Duration
	StatusTTL       time.Duration
	ResponseTTL     time.Duration
	TrustCache      bool
}

// Initial carries a phone number known before the session opens.
type Initial struct {
	Prefix string
	Number string
}

// Manager keeps one live Session per identity.
type Manager struct {
	surface    challenge.Surface
	store      ttlcache.Store
	delivery   CodeDelivery
	identities IdentityStore
	cfg        ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(surface challenge.Surface, store ttlcache.Store, delivery CodeDelivery, identities IdentityStore, cfg ManagerConfig) *Manager {
	return &Manager{
		surface:    surface,
		store:      store,
		delivery:   delivery,
		identities: identities,
		cfg:        cfg,
		sessions:   make(map[string]*Session),
	}
}

// Open returns the live session of identityID, creating and reconciling it
// if needed. Reopening retries a reconciliation that could not complete.
func (m *Manager) Open(ctx context.Context, identityID string, initial Initial) (*Session, error) {
	if identityID == "" {
		return nil, fmt.Errorf("open session: %w", domain.ErrBadRequest)
	}

	m.mu.Lock()
	s, ok := m.sessions[identityID]
	if !ok {
		s = m.newSession(ctx, identityID, initial)
		m.sessions[identityID] = s
	}
	m.mu.Unlock()

	if err := s.Reconcile(ctx); err != nil && !errors.Is(err, domain.ErrBusy) {
		return nil, err
	}
	return s, nil
}

func (m *Manager) newSession(ctx context.Context, identityID string, initial Initial) *Session {
	lc := challenge.New(ctx, m.surface, m.store, challenge.Config{
		Scope:         identityID,
		Domain:        m.cfg.Domain,
		RenderTimeout: m.cfg.RenderTimeout,
		StatusTTL:     m.cfg.StatusTTL,
		ResponseTTL:   m.cfg.ResponseTTL,
	})
	return NewSession(lc, m.delivery, m.identities, m.store, Options{
		IdentityID:      identityID,
		InitialPrefix:   initial.Prefix,
		InitialNumber:   initial.Number,
		DefaultPrefix:   m.cfg.DefaultPrefix,
		DispatchTimeout: m.cfg.DispatchTimeout,
		ResendCooldown:  m.cfg.ResendCooldown,
		VerifiedTTL:     m.cfg.VerifiedTTL,
		TrustCache:      m.cfg.TrustCache,
		OnVerified: func(id string, vp domain.VerifiedPhone) {
			slog.Info("verification: phone verified", "identity_id", id, "phone", vp.FullNumber)
		},
	})
}

// Get returns the live session of identityID.
func (m *Manager) Get(identityID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[identityID]
	if !ok {
		return nil, fmt.Errorf("verification session %s: %w", identityID, domain.ErrNotFound)
	}
	return s, nil
}

// Close disposes and forgets the session of identityID. Unknown ids are a no-op.
func (m *Manager) Close(identityID string) {
	m.mu.Lock()
	s, ok := m.sessions[identityID]
	delete(m.sessions, identityID)
	m.mu.Unlock()
	if ok {
		s.Dispose()
	}
}

// Logout closes the session and drops the cached verified phone.
func (m *Manager) Logout(ctx context.Context, identityID string) {
	m.Close(identityID)
	m.store.Delete(ctx, VerifiedKey(identityID))
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Shutdown disposes every live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Dispose()
	}
}
