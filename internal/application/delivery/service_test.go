package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-phone-verify/internal/application/challenge"
	"github.com/go-phone-verify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

type memChallenges struct {
	mu    sync.Mutex
	items map[string]domain.PhoneChallenge
}

func newMemChallenges() *memChallenges {
	return &memChallenges{items: map[string]domain.PhoneChallenge{}}
}

func (m *memChallenges) Put(_ context.Context, c *domain.PhoneChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[c.ChallengeID] = *c
	return nil
}

func (m *memChallenges) Get(_ context.Context, id string) (*domain.PhoneChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &c, nil
}

func (m *memChallenges) IncrementAttempts(_ context.Context, id string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.items[id]
	c.Attempts++
	m.items[id] = c
	return c.Attempts, nil
}

func (m *memChallenges) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

type mockSMS struct{ mock.Mock }

func (m *mockSMS) SendSMS(ctx context.Context, to, msg string) error {
	return m.Called(ctx, to, msg).Error(0)
}

type mockLinker struct{ mock.Mock }

func (m *mockLinker) LinkPhone(ctx context.Context, identityID, e164 string) error {
	return m.Called(ctx, identityID, e164).Error(0)
}

var passed = &challenge.Token{Handle: "w-1", State: challenge.Ready, RawResponse: "proof"}

func newTestService(t *testing.T, cfg Config) (*Service, *memChallenges, *mockSMS, *mockLinker) {
	t.Helper()
	store := newMemChallenges()
	sms := new(mockSMS)
	linker := new(mockLinker)
	if cfg.CodeTTL == 0 {
		cfg.CodeTTL = 10 * time.Minute
	}
	s := NewService(store, linker, sms, cfg)
	t.Cleanup(s.Close)
	return s, store, sms, linker
}

// dispatch sends a code and returns the handle and the code from the SMS body.
func dispatch(t *testing.T, s *Service, sms *mockSMS) (string, string) {
	t.Helper()
	var code string
	sms.On("SendSMS", mock.Anything, "+41791234567", mock.Anything).Run(func(args mock.Arguments) {
		msg := args.String(2)
		code = msg[strings.LastIndex(msg, " ")+1:]
	}).Return(nil).Once()
	handle, err := s.Dispatch(context.Background(), "+41791234567", passed)
	require.NoError(t, err)
	require.Len(t, code, 6)
	return handle, code
}

func TestDispatch_RequiresChallengeResponse(t *testing.T) {
	s, _, sms, _ := newTestService(t, Config{})

	_, err := s.Dispatch(context.Background(), "+41791234567", &challenge.Token{State: challenge.Ready})
	assert.Equal(t, domain.CodeCaptchaCheckFailed, domain.ProviderCodeOf(err))
	_, err = s.Dispatch(context.Background(), "+41791234567", nil)
	assert.Equal(t, domain.CodeCaptchaCheckFailed, domain.ProviderCodeOf(err))
	sms.AssertNotCalled(t, "SendSMS", mock.Anything, mock.Anything, mock.Anything)
}

func TestDispatch_StoresHashedCode(t *testing.T) {
	s, store, sms, _ := newTestService(t, Config{})

	handle, code := dispatch(t, s, sms)
	c, err := store.Get(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, "+41791234567", c.PhoneNumber)
	assert.NotEqual(t, code, c.CodeHash)
	assert.Greater(t, c.ExpiresAt, c.CreatedAt)
}

func TestDispatch_PerNumberLimit(t *testing.T) {
	s, _, sms, _ := newTestService(t, Config{PerNumberEvery: time.Hour, PerNumberBurst: 1})
	dispatch(t, s, sms)

	_, err := s.Dispatch(context.Background(), "+41791234567", passed)
	assert.Equal(t, domain.CodeTooManyRequests, domain.ProviderCodeOf(err))
}

func TestDispatch_HourlyQuota(t *testing.T) {
	s, _, sms, _ := newTestService(t, Config{HourlyQuota: 1})
	dispatch(t, s, sms)

	_, err := s.Dispatch(context.Background(), "+41791234568", passed)
	assert.Equal(t, domain.CodeQuotaExceeded, domain.ProviderCodeOf(err))
}

func TestDispatch_SMSFailureDropsChallenge(t *testing.T) {
	s, store, sms, _ := newTestService(t, Config{})
	sms.On("SendSMS", mock.Anything, mock.Anything, mock.Anything).
		Return(&domain.ProviderError{Code: domain.CodeInvalidPhoneNumber}).Once()

	_, err := s.Dispatch(context.Background(), "+41791234567", passed)
	assert.Equal(t, domain.CodeInvalidPhoneNumber, domain.ProviderCodeOf(err))
	assert.Empty(t, store.items)
}

func TestConfirm_CorrectCode(t *testing.T) {
	s, store, sms, _ := newTestService(t, Config{})
	handle, code := dispatch(t, s, sms)

	cred, err := s.Confirm(context.Background(), handle, code)
	require.NoError(t, err)
	assert.Equal(t, "+41791234567", cred.PhoneNumber)
	assert.Equal(t, handle, cred.ChallengeID)
	assert.Empty(t, store.items)

	_, err = s.Confirm(context.Background(), handle, code)
	assert.Equal(t, domain.CodeExpired, domain.ProviderCodeOf(err))
}

func TestConfirm_WrongCodeCountsAttempts(t *testing.T) {
	s, _, sms, _ := newTestService(t, Config{MaxAttempts: 2})
	handle, code := dispatch(t, s, sms)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	_, err := s.Confirm(context.Background(), handle, wrong)
	assert.Equal(t, domain.CodeInvalidVerificationCode, domain.ProviderCodeOf(err))

	_, err = s.Confirm(context.Background(), handle, wrong)
	assert.Equal(t, domain.CodeExpired, domain.ProviderCodeOf(err))
}

func TestConfirm_ExpiredChallenge(t *testing.T) {
	s, _, sms, _ := newTestService(t, Config{})
	handle, code := dispatch(t, s, sms)
	s.nowF = func() time.Time { return time.Now().Add(11 * time.Minute) }

	_, err := s.Confirm(context.Background(), handle, code)
	assert.Equal(t, domain.CodeExpired, domain.ProviderCodeOf(err))
}

func TestConfirm_MissingHandle(t *testing.T) {
	s, _, _, _ := newTestService(t, Config{})
	_, err := s.Confirm(context.Background(), "", "123456")
	assert.Equal(t, domain.CodeMissingVerificationID, domain.ProviderCodeOf(err))
}

func TestLinkCredential(t *testing.T) {
	s, _, _, linker := newTestService(t, Config{})
	cred := &domain.Credential{PhoneNumber: "+41791234567"}
	linker.On("LinkPhone", mock.Anything, "user-1", "+41791234567").Return(nil).Once()
	linker.On("LinkPhone", mock.Anything, "user-2", "+41791234567").
		Return(errors.New("wrapped: " + domain.ErrConflict.Error())).Once()
	linker.On("LinkPhone", mock.Anything, "user-3", "+41791234567").
		Return(domain.ErrConflict).Once()

	require.NoError(t, s.LinkCredential(context.Background(), "user-1", cred))
	assert.Equal(t, domain.CodeNetworkRequestFailed, domain.ProviderCodeOf(s.LinkCredential(context.Background(), "user-2", cred)))
	assert.Equal(t, domain.CodeCredentialAlreadyInUse, domain.ProviderCodeOf(s.LinkCredential(context.Background(), "user-3", cred)))
}
