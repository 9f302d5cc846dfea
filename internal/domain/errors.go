package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("bad request")
)

// Verification error kinds. Each maps to one user-facing category.
var (
	ErrValidation           = errors.New("validation failed")
	ErrInvalidFormat        = errors.New("invalid phone number format")
	ErrChallengeUnavailable = errors.New("security check unavailable")
	ErrConfiguration        = errors.New("phone verification misconfigured")
	ErrRateLimited          = errors.New("too many verification attempts")
	ErrQuotaExceeded        = errors.New("sms quota exceeded")
	ErrSecurityCheckFailed  = errors.New("security check failed")
	ErrCredentialConflict   = errors.New("phone number already in use")
	ErrSessionExpired       = errors.New("verification session expired")
	ErrCodeExpired          = errors.New("verification code expired")
	ErrInvalidCode          = errors.New("invalid verification code")
	ErrDispatchTimeout      = errors.New("verification request timed out")
	ErrInvalidState         = errors.New("action not allowed in current step")
	ErrBusy                 = errors.New("another verification request is in flight")
	ErrUnknown              = errors.New("verification failed")
)

var categories = []struct {
	kind error
	name string
}{
	{ErrValidation, "ValidationError"},
	{ErrInvalidFormat, "InvalidFormat"},
	{ErrChallengeUnavailable, "ChallengeUnavailable"},
	{ErrConfiguration, "ConfigurationError"},
	{ErrRateLimited, "RateLimited"},
	{ErrQuotaExceeded, "QuotaExceeded"},
	{ErrSecurityCheckFailed, "SecurityCheckFailed"},
	{ErrCredentialConflict, "CredentialConflict"},
	{ErrSessionExpired, "SessionExpired"},
	{ErrCodeExpired, "CodeExpired"},
	{ErrInvalidCode, "InvalidCode"},
	{ErrDispatchTimeout, "Timeout"},
	{ErrInvalidState, "InvalidState"},
	{ErrBusy, "Busy"},
}

// Category returns the user-facing category name for err. Errors outside the
// verification taxonomy report "Unknown".
func Category(err error) string {
	if err == nil {
		return ""
	}
	for _, c := range categories {
		if errors.Is(err, c.kind) {
			return c.name
		}
	}
	return "Unknown"
}

// VerificationError carries a kind sentinel plus the diagnostics a caller
// needs to render it: the originating provider code and an optional hint.
type VerificationError struct {
	Kind         error
	Field        string
	ProviderCode ProviderCode
	Hint         string
	Err          error
}

func (e *VerificationError) Error() string {
	msg := e.Kind.Error()
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.ProviderCode != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.ProviderCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *VerificationError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Invalid builds a validation error for field.
func Invalid(field, reason string) *VerificationError {
	return &VerificationError{Kind: ErrValidation, Field: field, Err: errors.New(reason)}
}

// HintOf returns the remediation hint attached to err, if any.
func HintOf(err error) string {
	var ve *VerificationError
	if errors.As(err, &ve) {
		return ve.Hint
	}
	return ""
}
