package domain

import (
	"time"
)

// LockoutReason explains why an account was locked.
type LockoutReason string

const (
	LockoutReasonFailedAttempts     LockoutReason = "failed_attempts"
	LockoutReasonSuspiciousActivity LockoutReason = "suspicious_activity"
	LockoutReasonAdminLock          LockoutReason = "admin_lock"
	LockoutReasonSecurityViolation  LockoutReason = "security_violation"
	LockoutReasonBruteForce         LockoutReason = "brute_force"
)

// AccountLockout records a lock placed on a user account. A nil LockedUntil
// means the lock is permanent until explicitly cleared.
type AccountLockout struct {
	UserID       string        `json:"user_id"`
	Reason       LockoutReason `json:"reason"`
	LockedAt     time.Time     `json:"locked_at"`
	LockedUntil  *time.Time    `json:"locked_until,omitempty"`
	AttemptCount int           `json:"attempt_count"`
	SourceIPs    []string      `json:"source_ips,omitempty"`
}

// IsActive reports whether the lockout is still in effect. A LockedUntil in
// the past means unlocked even if the record persists (lazy expiry).
func (l *AccountLockout) IsActive(now time.Time) bool {
	if l.LockedUntil == nil {
		return true
	}
	return now.Before(*l.LockedUntil)
}

// RetryAfter returns the remaining lock duration, or zero when the lock is
// permanent or already expired.
func (l *AccountLockout) RetryAfter(now time.Time) time.Duration {
	if l.LockedUntil == nil {
		return 0
	}
	if d := l.LockedUntil.Sub(now); d > 0 {
		return d
	}
	return 0
}

// LoginAttempt is an append-only record of a single authentication attempt,
// used for sliding-window analysis.
type LoginAttempt struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	IPAddress string    `json:"ip_address"`
	UserAgent string    `json:"user_agent,omitempty"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
}

// AttemptResult is the stable response contract returned after recording a
// login attempt, consumed by any HTTP layer built atop this core.
type AttemptResult struct {
	Locked             bool          `json:"locked"`
	LockoutReason      LockoutReason `json:"lockout_reason,omitempty"`
	LockoutDuration    time.Duration `json:"-"`
	LockoutDurationSec int64         `json:"lockout_duration_seconds,omitempty"`
	AttemptsRemaining  int           `json:"attempts_remaining,omitempty"`
	RequireCaptcha     bool          `json:"require_captcha"`
	SuspiciousActivity bool          `json:"suspicious_activity"`
}
