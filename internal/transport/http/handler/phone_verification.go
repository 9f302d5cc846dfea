package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-phone-verify/internal/application/verification"
	"github.com/go-phone-verify/internal/domain"
	"github.com/go-phone-verify/internal/pkg/validate"
	"github.com/go-phone-verify/internal/transport/http/middleware"
)

// SessionManager is what the handler needs from the verification manager.
type SessionManager interface {
	Open(ctx context.Context, identityID string, initial verification.Initial) (*verification.Session, error)
	Close(identityID string)
	Logout(ctx context.Context, identityID string)
}

type sendCodeRequest struct {
	Prefix            string `json:"phone_prefix" validate:"omitempty,max=5"`
	Number            string `json:"phone_number" validate:"required,max=32"`
	ChallengeResponse string `json:"challenge_response" validate:"omitempty,max=4096"`
}

type resendCodeRequest struct {
	ChallengeResponse string `json:"challenge_response" validate:"omitempty,max=4096"`
}

type verifyCodeRequest struct {
	Code string `json:"code"`
}

type challengeResponseRequest struct {
	Response string `json:"response" validate:"required,max=4096"`
}

// PhoneVerificationHandler exposes the verification state machine of the
// authenticated identity.
type PhoneVerificationHandler struct {
	manager SessionManager
}

func NewPhoneVerificationHandler(manager SessionManager) *PhoneVerificationHandler {
	return &PhoneVerificationHandler{manager: manager}
}

func (h *PhoneVerificationHandler) open(w http.ResponseWriter, r *http.Request) (*verification.Session, bool) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	s, err := h.manager.Open(r.Context(), claims.IdentityID(), verification.Initial{
		Prefix: claims.PhonePrefix,
		Number: claims.PhoneNumber,
	})
	if err != nil {
		httpError(w, err)
		return nil, false
	}
	return s, true
}

// Get opens (or reuses) the session and returns its snapshot.
func (h *PhoneVerificationHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	snap := s.Snapshot()
	writeJSON(w, http.StatusOK, VerificationEnvelope{Session: &snap})
}

func (h *PhoneVerificationHandler) Action(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if action == "logout" {
		h.logout(w, r)
		return
	}

	s, ok := h.open(w, r)
	if !ok {
		return
	}

	var (
		msg string
		err error
	)
	switch action {
	case "session":
		msg = "session open"
	case "send-code":
		var req sendCodeRequest
		if !decode(w, r, &req) {
			return
		}
		s.OfferChallengeResponse(req.ChallengeResponse)
		err = s.SendCode(r.Context(), req.Prefix, req.Number)
		msg = "verification code sent"
	case "resend-code":
		var req resendCodeRequest
		if !decode(w, r, &req) {
			return
		}
		s.OfferChallengeResponse(req.ChallengeResponse)
		err = s.ResendCode(r.Context())
		msg = "verification code sent"
	case "verify-code":
		var req verifyCodeRequest
		if !decode(w, r, &req) {
			return
		}
		err = s.VerifyCode(r.Context(), req.Code)
		msg = "phone number verified"
	case "change-number":
		err = s.ChangeNumber(r.Context())
		msg = "enter a new phone number"
	case "challenge-response":
		var req challengeResponseRequest
		if !decode(w, r, &req) {
			return
		}
		s.OfferChallengeResponse(req.Response)
		msg = "challenge response accepted"
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
		return
	}
	if err != nil {
		httpError(w, err)
		return
	}
	snap := s.Snapshot()
	writeJSON(w, http.StatusOK, VerificationEnvelope{Session: &snap, Message: msg})
}

// Close disposes the session without touching the cached verification.
func (h *PhoneVerificationHandler) Close(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.manager.Close(claims.IdentityID())
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "session closed"})
}

func (h *PhoneVerificationHandler) logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.manager.Logout(r.Context(), claims.IdentityID())
	writeJSON(w, http.StatusOK, MessageEnvelope{Message: "logged out"})
}

// decode reads a JSON body into dst and validates it. An empty body decodes
// as the zero value.
func decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		httpError(w, &domain.VerificationError{Kind: domain.ErrValidation, Err: err})
		return false
	}
	return true
}
