// Package delivery sends SMS verification codes and confirms them.
package delivery

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/go-phone-verify/internal/application/challenge"
	"github.com/go-phone-verify/internal/domain"
	"github.com/go-phone-verify/internal/infrastructure/sns"
	"github.com/go-phone-verify/internal/pkg/id"
	"github.com/go-phone-verify/internal/pkg/ratelimit"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/time/rate"
)

// ChallengeStore persists dispatched codes.
type ChallengeStore interface {
	Put(ctx context.Context, c *domain.PhoneChallenge) error
	Get(ctx context.Context, challengeID string) (*domain.PhoneChallenge, error)
	IncrementAttempts(ctx context.Context, challengeID string) (int, error)
	Delete(ctx context.Context, challengeID string) error
}

// PhoneLinker attaches a confirmed number to an identity.
type PhoneLinker interface {
	LinkPhone(ctx context.Context, identityID, e164 string) error
}

type Config struct {
	CodeTTL        time.Duration
	MaxAttempts    int
	PerNumberEvery time.Duration
	PerNumberBurst int
	HourlyQuota    int
}

// Service implements verification.CodeDelivery on top of DynamoDB and SNS.
type Service struct {
	challenges ChallengeStore
	identities PhoneLinker
	sms        sns.SMSSender
	cfg        Config
	perNumber  *ratelimit.Keyed
	quota      *rate.Limiter
	nowF       func() time.Time
}

func NewService(challenges ChallengeStore, identities PhoneLinker, sms sns.SMSSender, cfg Config) *Service {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	quota := rate.NewLimiter(rate.Inf, 0)
	if cfg.HourlyQuota > 0 {
		quota = rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.HourlyQuota)), cfg.HourlyQuota)
	}
	perNumber := rate.Inf
	if cfg.PerNumberEvery > 0 {
		perNumber = rate.Every(cfg.PerNumberEvery)
	}
	burst := cfg.PerNumberBurst
	if burst <= 0 {
		burst = 1
	}
	return &Service{
		challenges: challenges,
		identities: identities,
		sms:        sms,
		cfg:        cfg,
		perNumber:  ratelimit.NewKeyed(perNumber, burst, time.Hour),
		quota:      quota,
		nowF:       time.Now,
	}
}

// Close stops background cleanup.
func (s *Service) Close() { s.perNumber.Stop() }

// Dispatch sends a new code to fullNumber and returns the challenge handle.
// The token must carry a passed challenge response.
func (s *Service) Dispatch(ctx context.Context, fullNumber string, token *challenge.Token) (string, error) {
	if token == nil || token.RawResponse == "" {
		return "", &domain.ProviderError{Code: domain.CodeCaptchaCheckFailed, Message: "missing challenge response"}
	}
	if !s.perNumber.Allow(fullNumber) {
		return "", &domain.ProviderError{Code: domain.CodeTooManyRequests, Message: "too many codes for this number"}
	}
	if !s.quota.Allow() {
		slog.Warn("delivery: hourly sms quota exhausted", "quota", s.cfg.HourlyQuota)
		return "", &domain.ProviderError{Code: domain.CodeQuotaExceeded, Message: "hourly sms quota exhausted"}
	}

	code, err := generateCode()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	now := s.nowF()
	c := &domain.PhoneChallenge{
		ChallengeID: id.New(),
		PhoneNumber: fullNumber,
		CodeHash:    string(hash),
		CreatedAt:   now.Unix(),
		ExpiresAt:   now.Add(s.cfg.CodeTTL).Unix(),
	}
	if err := s.challenges.Put(ctx, c); err != nil {
		return "", &domain.ProviderError{Code: domain.CodeNetworkRequestFailed, Message: "store challenge", Err: err}
	}

	if err := s.sms.SendSMS(ctx, fullNumber, fmt.Sprintf("Your verification code is %s", code)); err != nil {
		if derr := s.challenges.Delete(ctx, c.ChallengeID); derr != nil {
			slog.Warn("delivery: cleanup challenge failed", "challenge_id", c.ChallengeID, "err", derr)
		}
		var pe *domain.ProviderError
		if errors.As(err, &pe) {
			return "", err
		}
		return "", &domain.ProviderError{Code: domain.CodeNetworkRequestFailed, Message: "send sms", Err: err}
	}
	return c.ChallengeID, nil
}

// Confirm checks code against the challenge. Each mismatch counts as an
// attempt; reaching MaxAttempts discards the challenge.
func (s *Service) Confirm(ctx context.Context, handle, code string) (*domain.Credential, error) {
	if handle == "" {
		return nil, &domain.ProviderError{Code: domain.CodeMissingVerificationID}
	}
	c, err := s.challenges.Get(ctx, handle)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, &domain.ProviderError{Code: domain.CodeExpired, Message: "challenge not found", Err: err}
		}
		return nil, &domain.ProviderError{Code: domain.CodeNetworkRequestFailed, Message: "load challenge", Err: err}
	}

	now := s.nowF()
	if now.Unix() >= c.ExpiresAt {
		s.discard(ctx, handle)
		return nil, &domain.ProviderError{Code: domain.CodeExpired}
	}

	if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
		n, err := s.challenges.IncrementAttempts(ctx, handle)
		if err != nil {
			slog.Warn("delivery: count attempt failed", "challenge_id", handle, "err", err)
			n = c.Attempts + 1
		}
		if n >= s.cfg.MaxAttempts {
			s.discard(ctx, handle)
			return nil, &domain.ProviderError{Code: domain.CodeExpired, Message: "too many attempts"}
		}
		return nil, &domain.ProviderError{Code: domain.CodeInvalidVerificationCode}
	}

	s.discard(ctx, handle)
	return &domain.Credential{ChallengeID: handle, PhoneNumber: c.PhoneNumber, VerifiedAt: now.UTC()}, nil
}

// LinkCredential attaches the confirmed number to identityID.
func (s *Service) LinkCredential(ctx context.Context, identityID string, cred *domain.Credential) error {
	if cred == nil {
		return &domain.ProviderError{Code: domain.CodeMissingVerificationID}
	}
	if err := s.identities.LinkPhone(ctx, identityID, cred.PhoneNumber); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return &domain.ProviderError{Code: domain.CodeCredentialAlreadyInUse, Err: err}
		}
		return &domain.ProviderError{Code: domain.CodeNetworkRequestFailed, Message: "link phone", Err: err}
	}
	return nil
}

func (s *Service) discard(ctx context.Context, handle string) {
	if err := s.challenges.Delete(ctx, handle); err != nil {
		slog.Warn("delivery: delete challenge failed", "challenge_id", handle, "err", err)
	}
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
