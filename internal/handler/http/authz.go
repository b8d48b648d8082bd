package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/service"
)

// AuthzHandler handles HTTP requests for authorization checks.
type AuthzHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthzHandler creates a new authorization HTTP handler.
func NewAuthzHandler(svc *service.AuthService, logger *slog.Logger) *AuthzHandler {
	return &AuthzHandler{service: svc, logger: logger}
}

// CheckRequest is the JSON request body for an authorization check. The
// access token is taken from the Authorization header; context carries the
// attribute values permission conditions evaluate against.
type CheckRequest struct {
	Resource string         `json:"resource" validate:"required,max=128"`
	Action   string         `json:"action" validate:"required,oneof=create read update delete execute manage"`
	Context  map[string]any `json:"context"`
}

// CheckResponse reports an authorization decision.
type CheckResponse struct {
	Allowed bool   `json:"allowed"`
	UserID  string `json:"user_id,omitempty"`
}

// Check handles POST /api/v1/authz/check
func (h *AuthzHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req CheckRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	accessToken := bearerToken(r)
	if accessToken == "" {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "missing authorization header"},
		})
		return
	}

	claims, err := h.service.ValidateAccess(r.Context(), accessToken, req.Resource, domain.Action(req.Action), req.Context)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: CheckResponse{Allowed: true, UserID: claims.UserID}})
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
