package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-phone-verify/internal/application/verification"
)

// MessageEnvelope is the generic response wrapper.
type MessageEnvelope struct {
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	ErrorCode int    `json:"error_code,omitempty"`
	Category  string `json:"category,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

// VerificationEnvelope wraps phone verification responses.
type VerificationEnvelope struct {
	Session *verification.Snapshot `json:"session,omitempty"`
	Message string                 `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, MessageEnvelope{Error: msg, ErrorCode: status})
}
