package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mugisham37/authcore/internal/audit"
	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/mfa"
	"github.com/mugisham37/authcore/internal/rbac"
	"github.com/mugisham37/authcore/internal/repository"
	"github.com/mugisham37/authcore/internal/service"
	"github.com/mugisham37/authcore/internal/session"
	"github.com/mugisham37/authcore/internal/token"
	"github.com/mugisham37/authcore/pkg/health"
	"github.com/mugisham37/authcore/pkg/middleware"
)

// NewRouter creates a chi router with all authentication service routes
// registered.
func NewRouter(
	authService *service.AuthService,
	mfaEngine *mfa.Engine,
	sessionManager *session.Manager,
	tokenManager *token.Manager,
	auditLogger *audit.Logger,
	users repository.UserRepository,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig CORSConfig,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing("auth"))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics("auth"))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Token validator that bridges to the internal token manager. Roles and
	// the session id ride in the custom claim set.
	tokenValidator := func(ctx context.Context, tokenString string) (*middleware.Claims, error) {
		claims, err := tokenManager.Validate(ctx, tokenString, domain.TokenTypeAccess)
		if err != nil {
			return nil, err
		}
		mc := &middleware.Claims{UserID: claims.UserID}
		if sid, ok := claims.Custom["session_id"].(string); ok {
			mc.SessionID = sid
		}
		switch roles := claims.Custom["roles"].(type) {
		case []string:
			mc.Roles = roles
		case []any:
			for _, role := range roles {
				if s, ok := role.(string); ok {
					mc.Roles = append(mc.Roles, s)
				}
			}
		}
		return mc, nil
	}

	// Per-IP flood protection in front of the credential endpoints. The
	// per-account sliding windows at the service layer stay authoritative.
	limiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())

	authHandler := NewAuthHandler(authService, logger)
	mfaHandler := NewMFAHandler(mfaEngine, users, logger)
	sessionHandler := NewSessionHandler(sessionManager, logger)
	authzHandler := NewAuthzHandler(authService, logger)
	auditHandler := NewAuditHandler(auditLogger, logger)

	// Auth endpoints
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore())
		r.Use(limiter.Handler())

		// Public
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/mfa/verify", authHandler.VerifyMFA)
		r.Post("/refresh", authHandler.RefreshToken)
		r.Post("/logout", authHandler.Logout)
		r.Post("/password/strength", authHandler.PasswordStrength)

		// Authenticated
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Post("/logout-all", authHandler.LogoutAll)
			r.Post("/password/change", authHandler.ChangePassword)
		})
	})

	// MFA enrollment and challenge endpoints (auth required, except resend
	// which is part of the pre-token login flow)
	r.Route("/api/v1/mfa", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.NoStore())
		r.Use(limiter.Handler())

		r.Post("/challenge/resend", mfaHandler.ResendChallenge)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Post("/totp/setup", mfaHandler.SetupTOTP)
			r.Post("/totp/confirm", mfaHandler.ConfirmTOTP)
			r.Post("/challenge", mfaHandler.CreateChallenge)
		})
	})

	// Session inspection and revocation (auth required)
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(middleware.Auth(tokenValidator))

		r.Get("/", sessionHandler.List)
		r.Delete("/{id}", sessionHandler.Revoke)
	})

	// Authorization check endpoint. The handler validates the supplied
	// access token itself, so no Auth middleware here.
	r.Route("/api/v1/authz", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/check", authzHandler.Check)
	})

	// Audit endpoints (admin only)
	r.Route("/api/v1/audit", func(r chi.Router) {
		r.Use(middleware.Auth(tokenValidator))
		r.Use(middleware.RequireRole(rbac.RoleAdmin))

		r.Get("/events", auditHandler.Query)
		r.Get("/report", auditHandler.Report)
		r.Get("/anomalies", auditHandler.Anomalies)
	})

	return r
}
