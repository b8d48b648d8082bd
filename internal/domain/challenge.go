package domain

import (
	"time"
)

// MFAMethod identifies a multi-factor challenge provider.
type MFAMethod string

const (
	MFAMethodTOTP  MFAMethod = "totp"
	MFAMethodSMS   MFAMethod = "sms"
	MFAMethodEmail MFAMethod = "email"
)

// IsValidMFAMethod checks whether the given string names a known provider.
func IsValidMFAMethod(m string) bool {
	switch MFAMethod(m) {
	case MFAMethodTOTP, MFAMethodSMS, MFAMethodEmail:
		return true
	}
	return false
}

// ChallengeStatus enumerates the states of the challenge state machine.
// PENDING is the only non-terminal state.
type ChallengeStatus string

const (
	ChallengeStatusPending  ChallengeStatus = "pending"
	ChallengeStatusVerified ChallengeStatus = "verified"
	ChallengeStatusExpired  ChallengeStatus = "expired"
	ChallengeStatusFailed   ChallengeStatus = "failed"
)

// MFAChallenge is a transient challenge record. Exactly one verification
// outcome maps to each challenge; expiry is evaluated lazily at access time.
type MFAChallenge struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Method      MFAMethod         `json:"method"`
	Status      ChallengeStatus   `json:"status"`
	Code        string            `json:"-"`
	Destination string            `json:"destination,omitempty"`
	Attempts    int               `json:"attempts"`
	MaxAttempts int               `json:"max_attempts"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	ExpiresAt   time.Time         `json:"expires_at"`
}

// IsValid reports whether the challenge can still accept a verification
// attempt: pending, not past expiry, and attempts below the ceiling.
func (c *MFAChallenge) IsValid(now time.Time) bool {
	return c.Status == ChallengeStatusPending &&
		now.Before(c.ExpiresAt) &&
		c.Attempts < c.MaxAttempts
}

// IsExpired reports whether the challenge lifetime has elapsed.
func (c *MFAChallenge) IsExpired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// MFASetup is the payload returned when enrolling a TOTP authenticator.
type MFASetup struct {
	Secret            string   `json:"secret"`
	QRCode            string   `json:"qr_code"`
	ManualEntryKey    string   `json:"manual_entry_key"`
	Issuer            string   `json:"issuer"`
	Digits            int      `json:"digits"`
	Interval          int      `json:"interval"`
	BackupCodes       []string `json:"backup_codes"`
	SetupInstructions []string `json:"setup_instructions"`
}
