package sns

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
	"github.com/go-phone-verify/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPublisher struct{ mock.Mock }

func (m *mockPublisher) Publish(ctx context.Context, in *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(*sns.PublishOutput)
	return out, args.Error(1)
}

func TestSendSMS_SetsTransactionalAttributes(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		_, hasSender := in.MessageAttributes["AWS.SNS.SMS.SenderID"]
		return *in.PhoneNumber == "+41791234567" &&
			*in.MessageAttributes["AWS.SNS.SMS.SMSType"].StringValue == "Transactional" && hasSender
	})).Return(&sns.PublishOutput{}, nil).Once()

	s := NewPublisherSender(pub, "VERIFY")
	require.NoError(t, s.SendSMS(context.Background(), "+41791234567", "Your code: 123456"))
	pub.AssertExpectations(t)
}

func TestSendSMS_MapsAPIErrors(t *testing.T) {
	cases := map[string]domain.ProviderCode{
		"InvalidParameter":   domain.CodeInvalidPhoneNumber,
		"Throttled":          domain.CodeTooManyRequests,
		"AuthorizationError": domain.CodeInternalError,
		"EndpointDisabled":   domain.ProviderCode("sns-EndpointDisabled"),
	}
	for apiCode, want := range cases {
		pub := new(mockPublisher)
		pub.On("Publish", mock.Anything, mock.Anything).
			Return(nil, &smithy.GenericAPIError{Code: apiCode, Message: "boom"}).Once()

		err := NewPublisherSender(pub, "").SendSMS(context.Background(), "+41791234567", "x")
		assert.Equal(t, want, domain.ProviderCodeOf(err), apiCode)
	}
}

func TestSendSMS_TransportErrorIsNetworkFailure(t *testing.T) {
	pub := new(mockPublisher)
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("dial tcp")).Once()

	err := NewPublisherSender(pub, "").SendSMS(context.Background(), "+41791234567", "x")
	assert.Equal(t, domain.CodeNetworkRequestFailed, domain.ProviderCodeOf(err))
}
