package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// LoginAttempts counts login attempts by outcome.
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Total number of login attempts by result",
		},
		[]string{"result"},
	)

	// LoginDuration observes end-to-end login handling time.
	LoginDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "auth_login_duration_seconds",
			Help:    "Duration of login processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AccountLockouts counts account lockouts by trigger reason.
	AccountLockouts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_account_lockouts_total",
			Help: "Total number of account lockouts by reason",
		},
		[]string{"reason"},
	)

	// MFAChallenges counts MFA challenges by method and outcome.
	MFAChallenges = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_mfa_challenges_total",
			Help: "Total number of MFA challenges by method and result",
		},
		[]string{"method", "result"},
	)

	// TokensIssued counts tokens issued by type.
	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_tokens_issued_total",
			Help: "Total number of tokens issued by type",
		},
		[]string{"type"},
	)

	// TokensRevoked counts refresh token revocations.
	TokensRevoked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_tokens_revoked_total",
			Help: "Total number of refresh tokens revoked",
		},
	)

	// ActiveSessions tracks the number of active sessions.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "auth_active_sessions",
			Help: "Current number of active sessions",
		},
	)

	// SessionsEvicted counts sessions evicted by the concurrency limit.
	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_sessions_evicted_total",
			Help: "Total number of sessions evicted by the concurrent-session limit",
		},
	)

	// PermissionChecks counts authorization decisions.
	PermissionChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_permission_checks_total",
			Help: "Total number of permission checks by decision",
		},
		[]string{"decision"},
	)
)
