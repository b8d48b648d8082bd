package http

import (
	"log/slog"
	"net/http"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/mfa"
	"github.com/mugisham37/authcore/internal/repository"
	"github.com/mugisham37/authcore/pkg/middleware"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

// MFAHandler handles HTTP requests for MFA enrollment and challenges.
type MFAHandler struct {
	engine *mfa.Engine
	users  repository.UserRepository
	logger *slog.Logger
}

// NewMFAHandler creates a new MFA HTTP handler.
func NewMFAHandler(engine *mfa.Engine, users repository.UserRepository, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{engine: engine, users: users, logger: logger}
}

// --- Request DTOs ---

// ConfirmTOTPRequest is the JSON request body for confirming TOTP enrollment.
type ConfirmTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// CreateChallengeRequest is the JSON request body for starting a challenge.
type CreateChallengeRequest struct {
	Method string `json:"method" validate:"required,oneof=totp sms email"`
}

// ResendChallengeRequest is the JSON request body for resending a code.
type ResendChallengeRequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
}

// --- Handlers ---

// SetupTOTP handles POST /api/v1/mfa/totp/setup
func (h *MFAHandler) SetupTOTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	setup, err := h.engine.SetupTOTP(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: setup})
}

// ConfirmTOTP handles POST /api/v1/mfa/totp/confirm
func (h *MFAHandler) ConfirmTOTP(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	var req ConfirmTOTPRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.engine.ConfirmTOTP(r.Context(), userID, req.Code); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: map[string]string{"status": "mfa_enabled"}})
}

// CreateChallenge handles POST /api/v1/mfa/challenge
func (h *MFAHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	var req CreateChallengeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !domain.IsValidMFAMethod(req.Method) {
		writeAppError(w, r, apperrors.InvalidInput("unsupported mfa method"))
		return
	}

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	challenge, err := h.engine.CreateChallenge(r.Context(), user, domain.MFAMethod(req.Method))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, response{Data: challenge})
}

// ResendChallenge handles POST /api/v1/mfa/challenge/resend
func (h *MFAHandler) ResendChallenge(w http.ResponseWriter, r *http.Request) {
	var req ResendChallengeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.engine.ResendChallenge(r.Context(), req.ChallengeID); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: map[string]string{"status": "resent"}})
}
