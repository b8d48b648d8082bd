package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mugisham37/authcore/internal/session"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
	"github.com/mugisham37/authcore/pkg/httputil"
	"github.com/mugisham37/authcore/pkg/middleware"
)

// SessionHandler handles HTTP requests for session inspection and revocation.
type SessionHandler struct {
	manager *session.Manager
	logger  *slog.Logger
}

// NewSessionHandler creates a new session HTTP handler.
func NewSessionHandler(manager *session.Manager, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, logger: logger}
}

// List handles GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	sessions, err := h.manager.ListUserSessions(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: sessions})
}

// Revoke handles DELETE /api/v1/sessions/{id}
//
// Users may only revoke their own sessions; the ownership check runs before
// the idempotent revocation.
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	// Session ids are UUIDs; reject malformed ones before hitting the store.
	sessionID := chi.URLParam(r, "id")
	if _, ok := httputil.ParseUUID(w, sessionID); !ok {
		return
	}

	sess, err := h.manager.Get(r.Context(), sessionID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if sess.UserID != userID {
		writeAppError(w, r, apperrors.Forbidden("session belongs to another user"))
		return
	}

	if err := h.manager.Revoke(r.Context(), sessionID, session.ReasonLogout); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: map[string]string{"id": sessionID, "status": "revoked"}})
}
