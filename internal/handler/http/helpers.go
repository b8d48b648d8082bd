package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/mugisham37/authcore/internal/domain"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
	"github.com/mugisham37/authcore/pkg/httputil"
	"github.com/mugisham37/authcore/pkg/validator"
)

// --- Shared response helpers ---

// Handlers render the standard envelope from pkg/httputil; the aliases keep
// call sites short.
type (
	response      = httputil.Response
	errorResponse = httputil.ErrorResponse
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	httputil.WriteJSON(w, status, v)
}

func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
	}
	httputil.WriteError(w, r, err, slog.Default())
}

func writeValidationError(w http.ResponseWriter, err error) {
	httputil.WriteValidationError(w, err)
}

// writeLoginFailure renders a failed attempt together with its lockout and
// captcha fields so clients can prompt accordingly.
func writeLoginFailure(w http.ResponseWriter, err error, attempt *domain.AttemptResult) {
	type failure struct {
		Error   *errorResponse        `json:"error"`
		Attempt *domain.AttemptResult `json:"attempt"`
	}

	status := http.StatusUnauthorized
	body := &errorResponse{Code: "UNAUTHORIZED", Message: err.Error()}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status = appErr.Status
		body = &errorResponse{Code: appErr.Code, Message: appErr.Message}
		if appErr.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(appErr.RetryAfter.Seconds())))
		}
	}
	writeJSON(w, status, failure{Error: body, Attempt: attempt})
}

// clientIP extracts the originating client address, preferring the first
// X-Forwarded-For hop set by the edge proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i > 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1MB limit
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, response{
			Error: &errorResponse{Code: "INVALID_INPUT", Message: "invalid request body: " + err.Error()},
		})
		return false
	}
	if err := validator.Validate(v); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}
