package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// AuditEventType classifies security events recorded by the audit logger.
type AuditEventType string

const (
	AuditLoginSuccess       AuditEventType = "login_success"
	AuditLoginFailure       AuditEventType = "login_failure"
	AuditLogout             AuditEventType = "logout"
	AuditTokenIssued        AuditEventType = "token_issued"
	AuditTokenRefreshed     AuditEventType = "token_refreshed"
	AuditTokenRevoked       AuditEventType = "token_revoked"
	AuditTokenRejected      AuditEventType = "token_rejected"
	AuditMFAChallengeSent   AuditEventType = "mfa_challenge_sent"
	AuditMFAVerified        AuditEventType = "mfa_verified"
	AuditMFAFailed          AuditEventType = "mfa_failed"
	AuditAccountLocked      AuditEventType = "account_locked"
	AuditAccountUnlocked    AuditEventType = "account_unlocked"
	AuditSuspiciousActivity AuditEventType = "suspicious_activity"
	AuditSessionCreated     AuditEventType = "session_created"
	AuditSessionRevoked     AuditEventType = "session_revoked"
	AuditPasswordChanged    AuditEventType = "password_changed"
	AuditPermissionDenied   AuditEventType = "permission_denied"
)

// AuditSeverity ranks the importance of an audit event.
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

// AuditEvent is an append-only structured security event.
type AuditEvent struct {
	EventID   string         `json:"event_id"`
	EventType AuditEventType `json:"event_type"`
	Severity  AuditSeverity  `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Resource  string         `json:"resource,omitempty"`
	Action    string         `json:"action,omitempty"`
	Result    string         `json:"result"`
	Details   map[string]any `json:"details,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditEventID derives a deterministic event id from the event type,
// timestamp, and user id, so duplicate emission of the same event is
// detectable downstream.
func AuditEventID(eventType AuditEventType, ts time.Time, userID string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", eventType, ts.UnixNano(), userID)))
	return hex.EncodeToString(sum[:16])
}
