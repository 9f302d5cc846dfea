// Package verification drives phone number verification for one identity:
// collecting a number, dispatching an SMS code behind a challenge token,
// and confirming the code.
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
	"github.com/go-phone-verify/internal/pkg/deadline"
	"github.com/go-phone-verify/internal/pkg/phone"
	"github.com/go-phone-verify/internal/pkg/ttlcache"
	"github.com/go-phone-verify/internal/pkg/validate"
)

// Step is the position of a Session in the verification workflow.
type Step int

const (
	StepCollecting Step = iota
	StepAwaitingCode
	StepVerified
)

func (s Step) String() string {
	switch s {
	case StepCollecting:
		return "collecting"
	case StepAwaitingCode:
		return "awaiting_code"
	case StepVerified:
		return "verified"
	}
	return "unknown"
}

// CodeDelivery sends and confirms SMS codes. Errors are *domain.ProviderError.
type CodeDelivery interface {
	Dispatch(ctx context.Context, fullNumber string, token *challenge.Token) (string, error)
	Confirm(ctx context.Context, handle, code string) (*domain.Credential, error)
	LinkCredential(ctx context.Context, identityID string, cred *domain.Credential) error
}

// IdentityStore is the system of record for an identity's phone number.
// LookupVerifiedPhone returns (nil, nil) when no verified phone is recorded.
type IdentityStore interface {
	LookupVerifiedPhone(ctx context.Context, identityID string) (*domain.VerifiedPhone, error)
	RecordVerifiedPhone(ctx context.Context, identityID, prefix, number string) error
}

// Challenger hands out challenge tokens. Implemented by *challenge.Lifecycle.
type Challenger interface {
	Acquire(ctx context.Context) (*challenge.Token, error)
	Offer(response string)
	Release()
}

// Options configures a Session.
type Options struct {
	IdentityID      string
	InitialPrefix   string
	InitialNumber   string
	DefaultPrefix   string
	DispatchTimeout time.Duration
	ResendCooldown  time.Duration
	VerifiedTTL     time.Duration
	// TrustCache adopts a cached verification without consulting the identity store.
	TrustCache bool
	// OnVerified is called after the session reaches StepVerified.
	OnVerified func(identityID string, vp domain.VerifiedPhone)
}

// VerifiedKey is the cache key of the verified phone entry for an identity.
func VerifiedKey(identityID string) string { return "phone_verification:" + identityID }

var errClosed = fmt.Errorf("%w: session closed", domain.ErrSessionExpired)

// Session is the verification state machine of one identity. Network calls
// are made without holding mu; busy rejects overlapping operations.
type Session struct {
	opts       Options
	challenge  Challenger
	delivery   CodeDelivery
	identities IdentityStore
	verified   ttlcache.Typed[domain.VerifiedPhone]
	tick       time.Duration
	nowF       func() time.Time

	mu          sync.Mutex
	step        Step
	prefix      string
	number      string
	code        string
	pendingID   string
	cooldown    int
	verifiedAt  time.Time
	busy        bool
	disposed    bool
	reconciled  bool
	reconciling bool
	stopTick    chan struct{}
}

// NewSession returns a session in StepCollecting. Call Reconcile before use.
func NewSession(ch Challenger, delivery CodeDelivery, identities IdentityStore, store ttlcache.Store, opts Options) *Session {
	if opts.DefaultPrefix == "" {
		opts.DefaultPrefix = "+41"
	}
	if opts.ResendCooldown <= 0 {
		opts.ResendCooldown = 60 * time.Second
	}
	if opts.DispatchTimeout <= 0 {
		opts.DispatchTimeout = 30 * time.Second
	}
	s := &Session{
		opts:       opts,
		challenge:  ch,
		delivery:   delivery,
		identities: identities,
		verified:   ttlcache.NewTyped[domain.VerifiedPhone](store),
		tick:       time.Second,
		nowF:       time.Now,
		step:       StepCollecting,
	}
	s.prefill()
	return s
}

func (s *Session) prefill() {
	s.prefix = s.opts.DefaultPrefix
	s.number = ""
	if s.opts.InitialNumber == "" {
		return
	}
	prefix := s.opts.InitialPrefix
	if prefix == "" {
		prefix, _ = phone.Split(s.opts.InitialNumber)
	}
	if prefix == "" {
		prefix = s.opts.DefaultPrefix
	}
	if n, err := phone.Normalize(prefix, s.opts.InitialNumber); err == nil {
		s.prefix, s.number = n.Prefix, n.Local
		return
	}
	s.prefix, s.number = prefix, s.opts.InitialNumber
}

// Snapshot is a read-only view of a Session.
type Snapshot struct {
	IdentityID     string     `json:"identity_id"`
	Step           string     `json:"step"`
	Prefix         string     `json:"phone_prefix"`
	Number         string     `json:"phone_number"`
	FullNumber     string     `json:"full_number,omitempty"`
	AwaitingCode   bool       `json:"awaiting_code"`
	ResendCooldown int        `json:"resend_cooldown_seconds"`
	CanResend      bool       `json:"can_resend"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		IdentityID:     s.opts.IdentityID,
		Step:           s.step.String(),
		Prefix:         s.prefix,
		Number:         s.number,
		AwaitingCode:   s.pendingID != "",
		ResendCooldown: s.cooldown,
		CanResend:      s.step == StepAwaitingCode && s.cooldown == 0,
	}
	if s.number != "" {
		snap.FullNumber = s.prefix + s.number
	}
	if s.step == StepVerified && !s.verifiedAt.IsZero() {
		at := s.verifiedAt
		snap.VerifiedAt = &at
	}
	return snap
}

// Step returns the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

func (s *Session) SetPhoneNumber(number string) error {
	return s.edit(StepCollecting, func() { s.number = number })
}

func (s *Session) SetPrefix(prefix string) error {
	return s.edit(StepCollecting, func() { s.prefix = prefix })
}

func (s *Session) SetCode(code string) error {
	return s.edit(StepAwaitingCode, func() { s.code = code })
}

func (s *Session) edit(step Step, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return errClosed
	}
	if s.step != step {
		return invalidState(s.step)
	}
	apply()
	return nil
}

// OfferChallengeResponse passes a client-produced challenge proof to the
// next token render.
func (s *Session) OfferChallengeResponse(response string) {
	if response != "" {
		s.challenge.Offer(response)
	}
}

// SendCode normalizes the number and dispatches a code to it.
func (s *Session) SendCode(ctx context.Context, prefix, number string) error {
	n, err := phone.Normalize(prefix, number)
	if err != nil {
		return err
	}
	if err := s.begin(StepCollecting); err != nil {
		return err
	}
	defer s.end()

	s.mu.Lock()
	s.prefix, s.number = n.Prefix, n.Local
	s.mu.Unlock()

	return s.dispatch(ctx, n.Full)
}

// ResendCode dispatches a new code to the stored number once the cooldown has
// elapsed. While it is running the call is a no-op.
func (s *Session) ResendCode(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errClosed
	}
	if s.busy || s.reconciling {
		s.mu.Unlock()
		return domain.ErrBusy
	}
	if s.step != StepAwaitingCode {
		st := s.step
		s.mu.Unlock()
		return invalidState(st)
	}
	if s.cooldown > 0 {
		left := s.cooldown
		s.mu.Unlock()
		slog.Debug("verification: resend ignored during cooldown", "identity_id", s.opts.IdentityID, "cooldown", left)
		return nil
	}
	s.busy = true
	full := s.prefix + s.number
	s.mu.Unlock()
	defer s.end()

	return s.dispatch(ctx, full)
}

func (s *Session) dispatch(ctx context.Context, full string) error {
	tok, err := s.challenge.Acquire(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrConfiguration) {
			return err
		}
		return &domain.VerificationError{Kind: domain.ErrChallengeUnavailable, Hint: "security check failed, refresh and try again", Err: err}
	}
	if tok == nil {
		return &domain.VerificationError{Kind: domain.ErrChallengeUnavailable, Hint: "security check is still loading, try again"}
	}

	handle, err := deadline.Run(ctx, s.opts.DispatchTimeout, func(ctx context.Context) (string, error) {
		return s.delivery.Dispatch(ctx, full, tok)
	})
	if err != nil {
		s.challenge.Release()
		if deadline.IsTimeout(err) {
			return &domain.VerificationError{Kind: domain.ErrDispatchTimeout, Hint: "the SMS service did not answer in time, try again", Err: err}
		}
		return classify(s.opts.IdentityID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return errClosed
	}
	s.pendingID = handle
	s.step = StepAwaitingCode
	s.code = ""
	s.cooldown = int(s.opts.ResendCooldown / time.Second)
	s.startTicker()
	return nil
}

// VerifyCode confirms code against the pending challenge and, when the
// session belongs to an identity, links the phone credential to it.
func (s *Session) VerifyCode(ctx context.Context, code string) error {
	if err := validate.Var(code, "required,otp"); err != nil {
		return domain.Invalid("code", "verification code must be exactly 6 digits")
	}

	s.mu.Lock()
	switch {
	case s.disposed:
		s.mu.Unlock()
		return errClosed
	case s.busy || s.reconciling:
		s.mu.Unlock()
		return domain.ErrBusy
	case s.step == StepVerified:
		s.mu.Unlock()
		return &domain.VerificationError{Kind: domain.ErrInvalidState, Hint: "phone number already verified"}
	case s.pendingID == "":
		s.resetLocked()
		s.mu.Unlock()
		return &domain.VerificationError{Kind: domain.ErrSessionExpired, Hint: "request a new code"}
	}
	s.busy = true
	s.code = code
	handle := s.pendingID
	identityID := s.opts.IdentityID
	s.mu.Unlock()
	defer s.end()

	cred, err := s.delivery.Confirm(ctx, handle, code)
	if err == nil && identityID != "" {
		err = s.delivery.LinkCredential(ctx, identityID, cred)
	}
	if err != nil {
		verr := classify(identityID, err)
		if errors.Is(verr, domain.ErrCodeExpired) || errors.Is(verr, domain.ErrSessionExpired) {
			s.mu.Lock()
			if !s.disposed {
				s.resetLocked()
			}
			s.mu.Unlock()
		}
		return verr
	}

	verifiedAt := cred.VerifiedAt
	if verifiedAt.IsZero() {
		verifiedAt = s.nowF()
	}
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errClosed
	}
	s.step = StepVerified
	s.pendingID = ""
	s.code = ""
	s.cooldown = 0
	s.stopTickerLocked()
	s.verifiedAt = verifiedAt
	vp := domain.VerifiedPhone{Prefix: s.prefix, Number: s.number, FullNumber: s.prefix + s.number, VerifiedAt: verifiedAt}
	s.mu.Unlock()

	s.verified.Set(ctx, VerifiedKey(identityID), vp, s.opts.VerifiedTTL)
	if identityID != "" {
		if err := s.identities.RecordVerifiedPhone(ctx, identityID, vp.Prefix, vp.Number); err != nil {
			slog.Warn("verification: record verified phone failed", "identity_id", identityID, "err", err)
		}
	}
	s.notify(vp)
	return nil
}

// ChangeNumber returns to StepCollecting keeping the stored number.
func (s *Session) ChangeNumber(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return errClosed
	}
	if s.busy || s.reconciling {
		s.mu.Unlock()
		return domain.ErrBusy
	}
	if s.step == StepCollecting {
		s.mu.Unlock()
		return invalidState(StepCollecting)
	}
	wasVerified := s.step == StepVerified
	s.resetLocked()
	s.verifiedAt = time.Time{}
	s.mu.Unlock()

	if wasVerified {
		s.verified.Delete(ctx, VerifiedKey(s.opts.IdentityID))
	}
	return nil
}

// Dispose stops the cooldown timer, releases the challenge token and marks
// the session closed. In-flight calls finish without touching state.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.reconciled = false
	s.stopTickerLocked()
	s.mu.Unlock()
	s.challenge.Release()
}

func (s *Session) begin(step Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return errClosed
	}
	if s.busy || s.reconciling {
		return domain.ErrBusy
	}
	if s.step != step {
		return invalidState(s.step)
	}
	s.busy = true
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

// resetLocked moves to StepCollecting. mu must be held.
func (s *Session) resetLocked() {
	s.step = StepCollecting
	s.pendingID = ""
	s.code = ""
	s.cooldown = 0
	s.stopTickerLocked()
}

func (s *Session) notify(vp domain.VerifiedPhone) {
	if s.opts.OnVerified != nil {
		s.opts.OnVerified(s.opts.IdentityID, vp)
	}
}

// startTicker begins the one-second resend countdown. mu must be held.
func (s *Session) startTicker() {
	s.stopTickerLocked()
	stop := make(chan struct{})
	s.stopTick = stop
	go s.countdown(stop)
}

func (s *Session) stopTickerLocked() {
	if s.stopTick != nil {
		close(s.stopTick)
		s.stopTick = nil
	}
}

func (s *Session) countdown(stop chan struct{}) {
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			s.mu.Lock()
			if s.stopTick != stop {
				s.mu.Unlock()
				return
			}
			if s.cooldown > 0 {
				s.cooldown--
			}
			done := s.cooldown == 0
			if done {
				s.stopTick = nil
			}
			s.mu.Unlock()
			if done {
				return
			}
		}
	}
}

func invalidState(step Step) error {
	return &domain.VerificationError{Kind: domain.ErrInvalidState, Hint: "not allowed while " + step.String()}
}
