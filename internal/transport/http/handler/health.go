package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// HealthHandler handles health-check endpoints.
type HealthHandler struct {
	sessions func() int
}

// NewHealthHandler reports the live session count from sessions.
func NewHealthHandler(sessions func() int) *HealthHandler {
	return &HealthHandler{sessions: sessions}
}

type healthEnvelope struct {
	Message  string `json:"message"`
	Sessions int    `json:"sessions"`
}

func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	switch chi.URLParam(r, "action") {
	case "ping":
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "pong"})
	case "status":
		writeJSON(w, http.StatusOK, healthEnvelope{Message: "ok", Sessions: h.sessions()})
	default:
		writeError(w, http.StatusBadRequest, "unknown action")
	}
}
