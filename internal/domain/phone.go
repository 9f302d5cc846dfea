package domain

import (
	"errors"
	"time"
)

// VerifiedPhone is a phone number confirmed through an SMS code. It is the
// value of the phone_verification cache entry and the identity store lookup result.
type VerifiedPhone struct {
	Prefix     string    `json:"phone_prefix"`
	Number     string    `json:"phone_number_local"`
	FullNumber string    `json:"phoneNumber"`
	VerifiedAt time.Time `json:"verifiedAt"`
}

// Credential is the proof returned by a successful code confirmation.
type Credential struct {
	ChallengeID string
	PhoneNumber string // E.164
	VerifiedAt  time.Time
}

// ProviderCode is the closed set of error codes a code delivery provider reports.
type ProviderCode string

const (
	CodeInvalidPhoneNumber      ProviderCode = "invalid-phone-number"
	CodeInternalError           ProviderCode = "internal-error"
	CodeUnauthorizedDomain      ProviderCode = "unauthorized-domain"
	CodeTooManyRequests         ProviderCode = "too-many-requests"
	CodeQuotaExceeded           ProviderCode = "quota-exceeded"
	CodeCaptchaCheckFailed      ProviderCode = "captcha-check-failed"
	CodeInvalidVerificationCode ProviderCode = "invalid-verification-code"
	CodeExpired                 ProviderCode = "code-expired"
	CodeMissingVerificationID   ProviderCode = "missing-verification-id"
	CodeCredentialAlreadyInUse  ProviderCode = "credential-already-in-use"
	CodeProviderAlreadyLinked   ProviderCode = "provider-already-linked"
	CodeAccountExistsDifferent  ProviderCode = "account-exists-with-different-credential"
	CodeNetworkRequestFailed    ProviderCode = "network-request-failed"
)

// ProviderError is returned by code delivery providers.
type ProviderError struct {
	Code    ProviderCode
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "provider: " + string(e.Code)
	}
	return "provider: " + string(e.Code) + ": " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderCodeOf extracts the provider code from err, or "" when err is not a ProviderError.
func ProviderCodeOf(err error) ProviderCode {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
