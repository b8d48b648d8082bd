package domain

import (
	"time"
)

// SessionStatus enumerates the lifecycle states of a session.
type SessionStatus string

const (
	SessionStatusActive     SessionStatus = "active"
	SessionStatusExpired    SessionStatus = "expired"
	SessionStatusRevoked    SessionStatus = "revoked"
	SessionStatusSuspicious SessionStatus = "suspicious"
)

// LoginMethod identifies how a session was established.
type LoginMethod string

const (
	LoginMethodPassword LoginMethod = "password"
	LoginMethodMFA      LoginMethod = "mfa"
	LoginMethodSSO      LoginMethod = "sso"
)

// DeviceInfo describes the client device attached to a session.
type DeviceInfo struct {
	DeviceID    string `json:"device_id"`
	UserAgent   string `json:"user_agent"`
	IPAddress   string `json:"ip_address"`
	Fingerprint string `json:"fingerprint"`
}

// SessionEvent is a security-relevant occurrence recorded on a session.
type SessionEvent struct {
	Type       string    `json:"type"`
	Suspicious bool      `json:"suspicious"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Session represents a tracked authenticated session.
type Session struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Device         DeviceInfo     `json:"device"`
	Status         SessionStatus  `json:"status"`
	LoginMethod    LoginMethod    `json:"login_method"`
	RiskScore      float64        `json:"risk_score"`
	SecurityEvents []SessionEvent `json:"security_events,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	RevokedReason  string         `json:"revoked_reason,omitempty"`
}

// IsActive reports whether the session is in the active state and not past
// its absolute expiry. Idle timeout is enforced separately by the manager.
func (s *Session) IsActive(now time.Time) bool {
	return s.Status == SessionStatusActive && now.Before(s.ExpiresAt)
}

// IdleTime returns how long the session has been without activity.
func (s *Session) IdleTime(now time.Time) time.Duration {
	return now.Sub(s.LastActivityAt)
}

// Age returns the total lifetime of the session so far.
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}

// SuspiciousEventCount counts the security events flagged suspicious.
func (s *Session) SuspiciousEventCount() int {
	n := 0
	for _, e := range s.SecurityEvents {
		if e.Suspicious {
			n++
		}
	}
	return n
}

// RecordEvent appends a security event to the session's ordered log.
func (s *Session) RecordEvent(eventType, detail string, suspicious bool, at time.Time) {
	s.SecurityEvents = append(s.SecurityEvents, SessionEvent{
		Type:       eventType,
		Suspicious: suspicious,
		Detail:     detail,
		OccurredAt: at,
	})
}
