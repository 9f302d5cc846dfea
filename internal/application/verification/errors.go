package verification

import (
	"log/slog"

	"github.com/go-phone-verify/internal/domain"
)

const configHint = "SMS verification is not enabled for this domain: check the SNS sender settings and the allowed captcha hostnames"

// classify maps a provider failure to a verification error kind.
func classify(identityID string, err error) error {
	code := domain.ProviderCodeOf(err)
	ve := &domain.VerificationError{ProviderCode: code, Err: err}
	switch code {
	case domain.CodeInvalidPhoneNumber:
		ve.Kind = domain.ErrInvalidFormat
		ve.Field = "phone_number"
	case domain.CodeInternalError, domain.CodeUnauthorizedDomain:
		ve.Kind = domain.ErrConfiguration
		ve.Hint = configHint
		slog.Error("verification: provider misconfigured", "identity_id", identityID, "code", code, "err", err)
	case domain.CodeTooManyRequests:
		ve.Kind = domain.ErrRateLimited
		ve.Hint = "wait a few minutes before requesting another code"
	case domain.CodeQuotaExceeded:
		ve.Kind = domain.ErrQuotaExceeded
		ve.Hint = "the daily SMS limit was reached, try again later"
	case domain.CodeCaptchaCheckFailed:
		ve.Kind = domain.ErrSecurityCheckFailed
		ve.Hint = "security check failed, refresh and try again"
	case domain.CodeInvalidVerificationCode:
		ve.Kind = domain.ErrInvalidCode
		ve.Field = "code"
	case domain.CodeExpired:
		ve.Kind = domain.ErrCodeExpired
		ve.Hint = "request a new code"
	case domain.CodeMissingVerificationID:
		ve.Kind = domain.ErrSessionExpired
		ve.Hint = "request a new code"
	case domain.CodeCredentialAlreadyInUse, domain.CodeProviderAlreadyLinked, domain.CodeAccountExistsDifferent:
		ve.Kind = domain.ErrCredentialConflict
		ve.Hint = "this number is linked to another account, use a different number"
	default:
		ve.Kind = domain.ErrUnknown
		ve.Hint = "something went wrong, try again"
		slog.Error("verification: unexpected provider error", "identity_id", identityID, "code", code, "err", err)
	}
	return ve
}
