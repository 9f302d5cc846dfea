package dynamo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/go-phone-verify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockAPI struct{ mock.Mock }

func (m *mockAPI) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.GetItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) PutItem(ctx context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.UpdateItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.DeleteItemOutput)
	return out, args.Error(1)
}
func (m *mockAPI) Query(ctx context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*dynamodb.QueryOutput)
	return out, args.Error(1)
}

func identityItem(t *testing.T, id domain.Identity) map[string]types.AttributeValue {
	t.Helper()
	item, err := attributevalue.MarshalMap(id)
	require.NoError(t, err)
	return item
}

func TestIdentityRepo_LookupVerifiedPhone(t *testing.T) {
	api := new(mockAPI)
	repo := NewIdentityRepo(api, "identities")
	at := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: identityItem(t, domain.Identity{
		IdentityID:      "user-1",
		PhonePrefix:     "+41",
		PhoneNumber:     "791234567",
		PhoneE164:       "+41791234567",
		PhoneVerified:   true,
		PhoneVerifiedAt: &at,
	})}, nil).Once()

	vp, err := repo.LookupVerifiedPhone(context.Background(), "user-1")
	require.NoError(t, err)
	require.NotNil(t, vp)
	assert.Equal(t, "+41791234567", vp.FullNumber)
	assert.True(t, at.Equal(vp.VerifiedAt))
}

func TestIdentityRepo_LookupVerifiedPhone_UnknownOrUnverified(t *testing.T) {
	api := new(mockAPI)
	repo := NewIdentityRepo(api, "identities")
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{Item: identityItem(t, domain.Identity{
		IdentityID:  "user-1",
		PhoneNumber: "791234567",
	})}, nil).Once()

	vp, err := repo.LookupVerifiedPhone(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, vp)

	vp, err = repo.LookupVerifiedPhone(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, vp)
}

func TestIdentityRepo_LookupVerifiedPhone_ClientError(t *testing.T) {
	api := new(mockAPI)
	repo := NewIdentityRepo(api, "identities")
	api.On("GetItem", mock.Anything, mock.Anything).Return(nil, errors.New("connection refused")).Once()

	_, err := repo.LookupVerifiedPhone(context.Background(), "user-1")
	assert.ErrorContains(t, err, "connection refused")
}

func TestIdentityRepo_RecordVerifiedPhone(t *testing.T) {
	api := new(mockAPI)
	repo := NewIdentityRepo(api, "identities")
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		names := map[string]bool{}
		for _, n := range in.ExpressionAttributeNames {
			names[n] = true
		}
		return *in.TableName == "identities" &&
			names["phone_e164"] && names["phone_verified"] && names["phone_verified_at"] && names["updated_at"]
	})).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

	require.NoError(t, repo.RecordVerifiedPhone(context.Background(), "user-1", "+41", "791234567"))
	api.AssertExpectations(t)
}

func TestIdentityRepo_LinkPhone_ConflictWithOtherIdentity(t *testing.T) {
	api := new(mockAPI)
	repo := NewIdentityRepo(api, "identities")
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{Items: []map[string]types.AttributeValue{
		identityItem(t, domain.Identity{IdentityID: "someone-else", PhoneE164: "+41791234567"}),
	}}, nil).Once()

	err := repo.LinkPhone(context.Background(), "user-1", "+41791234567")
	assert.True(t, errors.Is(err, domain.ErrConflict))
	api.AssertNotCalled(t, "UpdateItem", mock.Anything, mock.Anything)
}

func TestIdentityRepo_LinkPhone_FreeNumber(t *testing.T) {
	api := new(mockAPI)
	repo := NewIdentityRepo(api, "identities")
	api.On("Query", mock.Anything, mock.Anything).Return(&dynamodb.QueryOutput{}, nil).Once()
	api.On("UpdateItem", mock.Anything, mock.Anything).Return(&dynamodb.UpdateItemOutput{}, nil).Once()

	require.NoError(t, repo.LinkPhone(context.Background(), "user-1", "+41791234567"))
	api.AssertExpectations(t)
}

func TestChallengeRepo_GetMissing(t *testing.T) {
	api := new(mockAPI)
	repo := NewChallengeRepo(api, "phone_challenges")
	api.On("GetItem", mock.Anything, mock.Anything).Return(&dynamodb.GetItemOutput{}, nil).Once()

	_, err := repo.Get(context.Background(), "01HX")
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestChallengeRepo_IncrementAttempts(t *testing.T) {
	api := new(mockAPI)
	repo := NewChallengeRepo(api, "phone_challenges")
	api.On("UpdateItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.UpdateItemInput) bool {
		return *in.UpdateExpression == "ADD attempts :one"
	})).Return(&dynamodb.UpdateItemOutput{Attributes: map[string]types.AttributeValue{
		"attempts": &types.AttributeValueMemberN{Value: "3"},
	}}, nil).Once()

	n, err := repo.IncrementAttempts(context.Background(), "01HX")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}
