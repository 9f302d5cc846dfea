package verification

import (
	"context"

	"github.com/go-phone-verify/internal/application/challenge"
	"github.com/go-phone-verify/internal/domain"
	"github.com/stretchr/testify/mock"
)

// --- mocks ---

type mockChallenger struct{ mock.Mock }

func (m *mockChallenger) Acquire(ctx context.Context) (*challenge.Token, error) {
	args := m.Called(ctx)
	if t, _ := args.Get(0).(*challenge.Token); t != nil {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockChallenger) Offer(response string) { m.Called(response) }
func (m *mockChallenger) Release()              { m.Called() }

type mockDelivery struct{ mock.Mock }

func (m *mockDelivery) Dispatch(ctx context.Context, fullNumber string, token *challenge.Token) (string, error) {
	args := m.Called(ctx, fullNumber, token)
	return args.String(0), args.Error(1)
}
func (m *mockDelivery) Confirm(ctx context.Context, handle, code string) (*domain.Credential, error) {
	args := m.Called(ctx, handle, code)
	if c, _ := args.Get(0).(*domain.Credential); c != nil {
		return c, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDelivery) LinkCredential(ctx context.Context, identityID string, cred *domain.Credential) error {
	return m.Called(ctx, identityID, cred).Error(0)
}

type mockIdentityStore struct{ mock.Mock }

func (m *mockIdentityStore) LookupVerifiedPhone(ctx context.Context, identityID string) (*domain.VerifiedPhone, error) {
	args := m.Called(ctx, identityID)
	if v, _ := args.Get(0).(*domain.VerifiedPhone); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockIdentityStore) RecordVerifiedPhone(ctx context.Context, identityID, prefix, number string) error {
	return m.Called(ctx, identityID, prefix, number).Error(0)
}
