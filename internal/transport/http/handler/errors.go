package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-phone-verify/internal/domain"
)

var statusByKind = []struct {
	kind   error
	status int
}{
	{domain.ErrValidation, http.StatusUnprocessableEntity},
	{domain.ErrInvalidFormat, http.StatusUnprocessableEntity},
	{domain.ErrInvalidCode, http.StatusUnprocessableEntity},
	{domain.ErrBadRequest, http.StatusBadRequest},
	{domain.ErrUnauthorized, http.StatusUnauthorized},
	{domain.ErrSecurityCheckFailed, http.StatusForbidden},
	{domain.ErrNotFound, http.StatusNotFound},
	{domain.ErrCredentialConflict, http.StatusConflict},
	{domain.ErrConflict, http.StatusConflict},
	{domain.ErrBusy, http.StatusConflict},
	{domain.ErrInvalidState, http.StatusConflict},
	{domain.ErrSessionExpired, http.StatusGone},
	{domain.ErrCodeExpired, http.StatusGone},
	{domain.ErrRateLimited, http.StatusTooManyRequests},
	{domain.ErrQuotaExceeded, http.StatusTooManyRequests},
	{domain.ErrChallengeUnavailable, http.StatusServiceUnavailable},
	{domain.ErrDispatchTimeout, http.StatusGatewayTimeout},
}

// statusOf maps a service error to an HTTP status. Configuration and unknown
// failures are server errors.
func statusOf(err error) int {
	for _, s := range statusByKind {
		if errors.Is(err, s.kind) {
			return s.status
		}
	}
	return http.StatusInternalServerError
}

// httpError writes err with its category and remediation hint.
func httpError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	env := MessageEnvelope{
		Error:     err.Error(),
		ErrorCode: status,
		Category:  domain.Category(err),
		Hint:      domain.HintOf(err),
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "category", env.Category, "error", err)
		if env.Category == "Unknown" {
			env.Error = "internal error"
		}
	}
	writeJSON(w, status, env)
}
