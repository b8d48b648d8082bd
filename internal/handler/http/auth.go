package http

import (
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/password"
	"github.com/mugisham37/authcore/internal/service"
	"github.com/mugisham37/authcore/pkg/middleware"
)

// AuthHandler handles HTTP requests for authentication endpoints.
type AuthHandler struct {
	service *service.AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for registration.
type RegisterRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=64"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"omitempty,max=100"`
	LastName  string `json:"last_name" validate:"omitempty,max=100"`
	Phone     string `json:"phone" validate:"omitempty,max=20"`
}

// LoginRequest is the JSON request body for login.
type LoginRequest struct {
	Username   string `json:"username" validate:"required"`
	Password   string `json:"password" validate:"required"`
	DeviceID   string `json:"device_id" validate:"omitempty,max=128"`
	RememberMe bool   `json:"remember_me"`
}

// VerifyMFARequest is the JSON request body for completing an MFA login.
type VerifyMFARequest struct {
	ChallengeID string `json:"challenge_id" validate:"required"`
	Code        string `json:"code" validate:"required,max=16"`
	BackupCode  bool   `json:"backup_code"`
	DeviceID    string `json:"device_id" validate:"omitempty,max=128"`
	RememberMe  bool   `json:"remember_me"`
	TrustDevice bool   `json:"trust_device"`
}

// RefreshTokenRequest is the JSON request body for token refresh.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest is the JSON request body for logout.
type LogoutRequest struct {
	SessionID    string `json:"session_id" validate:"required"`
	RefreshToken string `json:"refresh_token"`
}

// ChangePasswordRequest is the JSON request body for a password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required"`
}

// PasswordStrengthRequest is the JSON request body for a strength check.
type PasswordStrengthRequest struct {
	Password  string `json:"password" validate:"required"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), service.RegisterInput{
		Username:  req.Username,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
	}, uuid.New().String())
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, response{Data: user})
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Login(r.Context(), service.LoginInput{
		Username:   req.Username,
		Password:   req.Password,
		Device:     deviceFromRequest(r, req.DeviceID),
		RememberMe: req.RememberMe,
	})
	if err != nil {
		// A failed attempt may still carry captcha/lockout hints.
		if result != nil && result.Attempt != nil {
			writeLoginFailure(w, err, result.Attempt)
			return
		}
		writeAppError(w, r, err)
		return
	}

	if result.MFARequired {
		writeJSON(w, http.StatusAccepted, response{Data: result})
		return
	}
	writeJSON(w, http.StatusOK, response{Data: result})
}

// VerifyMFA handles POST /api/v1/auth/mfa/verify
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req VerifyMFARequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.CompleteMFALogin(r.Context(), service.CompleteMFAInput{
		ChallengeID: req.ChallengeID,
		Code:        req.Code,
		BackupCode:  req.BackupCode,
		Device:      deviceFromRequest(r, req.DeviceID),
		RememberMe:  req.RememberMe,
		TrustDevice: req.TrustDevice,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: result})
}

// RefreshToken handles POST /api/v1/auth/refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	tokens, err := h.service.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: tokens})
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req LogoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.Logout(r.Context(), req.SessionID, req.RefreshToken); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: map[string]string{"status": "logged_out"}})
}

// LogoutAll handles POST /api/v1/auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	sessions, tokens, err := h.service.LogoutAll(r.Context(), userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: map[string]int{
		"sessions_revoked": sessions,
		"tokens_revoked":   tokens,
	}})
}

// ChangePassword handles POST /api/v1/auth/password/change
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeJSON(w, http.StatusUnauthorized, response{
			Error: &errorResponse{Code: "UNAUTHORIZED", Message: "user not authenticated"},
		})
		return
	}

	var req ChangePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, response{Data: map[string]string{"status": "password_changed"}})
}

// PasswordStrength handles POST /api/v1/auth/password/strength
func (h *AuthHandler) PasswordStrength(w http.ResponseWriter, r *http.Request) {
	var req PasswordStrengthRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result := h.service.CheckPasswordStrength(req.Password, password.UserInfo{
		Username:  req.Username,
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})

	writeJSON(w, http.StatusOK, response{Data: result})
}

func deviceFromRequest(r *http.Request, deviceID string) domain.DeviceInfo {
	return domain.DeviceInfo{
		DeviceID:  deviceID,
		UserAgent: r.UserAgent(),
		IPAddress: clientIP(r),
	}
}
