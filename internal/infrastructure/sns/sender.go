package sns

import (
	"context"
	"errors"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/smithy-go"
	"github.com/go-phone-verify/internal/config"
	"github.com/go-phone-verify/internal/domain"
	"github.com/go-phone-verify/internal/infrastructure/dynamo"
)

// SMSSender sends SMS messages. Failures are *domain.ProviderError.
type SMSSender interface {
	SendSMS(ctx context.Context, to, message string) error
}

// Publisher is the subset of the SNS client used by the sender.
type Publisher interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type sender struct {
	client   Publisher
	senderID string
}

func NewSender(cfg *config.Config) (SMSSender, error) {
	awsCfg, err := dynamo.LoadAWSConfig(context.Background(), cfg, cfg.SNSRegion)
	if err != nil {
		return nil, err
	}
	var opts []func(*sns.Options)
	if cfg.AWSEndpointURL != "" {
		opts = append(opts, func(o *sns.Options) {
			o.BaseEndpoint = aws.String(cfg.AWSEndpointURL)
		})
	}
	return NewPublisherSender(sns.NewFromConfig(awsCfg, opts...), cfg.SMSSenderID), nil
}

// NewPublisherSender wraps an SNS publisher.
func NewPublisherSender(client Publisher, senderID string) SMSSender {
	return &sender{client: client, senderID: senderID}
}

func (s *sender) SendSMS(ctx context.Context, to, message string) error {
	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String("Transactional")},
	}
	if s.senderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(s.senderID)}
	}
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       &to,
		Message:           &message,
		MessageAttributes: attrs,
	})
	if err != nil {
		return providerError(err)
	}
	return nil
}

// providerError maps SNS API error codes to provider codes.
func providerError(err error) error {
	code := domain.CodeNetworkRequestFailed
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "InvalidParameter", "InvalidParameterValue":
			code = domain.CodeInvalidPhoneNumber
		case "Throttled", "Throttling", "ThrottlingException":
			code = domain.CodeTooManyRequests
		case "OptedOut":
			code = domain.CodeInvalidPhoneNumber
		case "AuthorizationError", "InvalidClientTokenId", "KMSAccessDenied":
			code = domain.CodeInternalError
		default:
			code = domain.ProviderCode("sns-" + apiErr.ErrorCode())
		}
	}
	return &domain.ProviderError{Code: code, Message: "sms publish failed", Err: err}
}

// logSender writes codes to the log instead of sending them. Used when no SNS
// region is reachable outside production.
type logSender struct{}

func NewLogSender() SMSSender { return logSender{} }

func (logSender) SendSMS(_ context.Context, to, message string) error {
	slog.Info("sms (not sent)", "to", to, "message", message)
	return nil
}
