package verification

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-phone-verify/internal/domain"
	"github.com/go-phone-verify/internal/pkg/phone"
)

// Reconcile resolves the initial step of the session from, in order, the
// cached verification, the identity store and the constructor defaults. It
// runs once; a connectivity failure of the identity store leaves the session
// collecting and lets the next call retry.
func (s *Session) Reconcile(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.disposed:
		s.mu.Unlock()
		return errClosed
	case s.reconciled:
		s.mu.Unlock()
		return nil
	case s.reconciling || s.busy:
		s.mu.Unlock()
		return domain.ErrBusy
	}
	s.reconciling = true
	s.mu.Unlock()

	vp, done := s.resolve(ctx)

	s.mu.Lock()
	s.reconciling = false
	if s.disposed {
		s.mu.Unlock()
		return errClosed
	}
	s.reconciled = done
	if vp == nil {
		s.mu.Unlock()
		return nil
	}
	s.step = StepVerified
	s.prefix = vp.Prefix
	s.number = vp.Number
	s.verifiedAt = vp.VerifiedAt
	s.pendingID = ""
	s.code = ""
	s.cooldown = 0
	s.stopTickerLocked()
	s.mu.Unlock()

	s.notify(*vp)
	return nil
}

// resolve returns the verified phone to adopt, or nil to stay collecting.
// done is false when the identity store could not be reached.
func (s *Session) resolve(ctx context.Context) (*domain.VerifiedPhone, bool) {
	id := s.opts.IdentityID
	key := VerifiedKey(id)

	cached, hit := s.verified.Get(ctx, key)
	if hit {
		if vp, ok := fromCache(cached, s.opts.DefaultPrefix); ok {
			if s.opts.TrustCache || id == "" {
				return &vp, true
			}
			cached = vp
		} else {
			s.verified.Delete(ctx, key)
			hit = false
		}
	}

	if id == "" || s.identities == nil {
		return nil, true
	}
	remote, err := s.identities.LookupVerifiedPhone(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		slog.Warn("verification: identity lookup failed", "identity_id", id, "err", err)
		if hit {
			// the cache is all we have until the store is reachable again
			return &cached, false
		}
		return nil, false
	}
	if remote == nil || remote.Number == "" {
		if hit {
			slog.Info("verification: cached phone no longer verified remotely", "identity_id", id)
			s.verified.Delete(ctx, key)
		}
		return nil, true
	}

	vp := normalizeRemote(*remote, s.opts.DefaultPrefix, s.nowF)
	if !hit || cached.FullNumber != vp.FullNumber {
		s.verified.Set(ctx, key, vp, s.opts.VerifiedTTL)
	}
	return &vp, true
}

// fromCache fills prefix and local number of a cached entry from its full
// number when they are missing. Entries without a number are rejected.
func fromCache(vp domain.VerifiedPhone, defaultPrefix string) (domain.VerifiedPhone, bool) {
	if vp.FullNumber == "" && vp.Number == "" {
		return vp, false
	}
	if vp.Prefix == "" || vp.Number == "" {
		full := strings.ReplaceAll(vp.FullNumber, " ", "")
		prefix, local := phone.Split(full)
		if prefix == "" {
			prefix = defaultPrefix
			local = strings.TrimPrefix(strings.TrimPrefix(full, "+"), strings.TrimPrefix(defaultPrefix, "+"))
		}
		vp.Prefix, vp.Number = prefix, local
	}
	if vp.FullNumber == "" {
		vp.FullNumber = vp.Prefix + vp.Number
	}
	return vp, true
}

func normalizeRemote(vp domain.VerifiedPhone, defaultPrefix string, now func() time.Time) domain.VerifiedPhone {
	if vp.Prefix == "" {
		vp.Prefix = defaultPrefix
	}
	vp.FullNumber = vp.Prefix + vp.Number
	if vp.VerifiedAt.IsZero() {
		vp.VerifiedAt = now()
	}
	return vp
}
