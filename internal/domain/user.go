package domain

import (
	"time"
)

// UserStatus enumerates the lifecycle states of a user account.
type UserStatus string

const (
	UserStatusActive              UserStatus = "active"
	UserStatusInactive            UserStatus = "inactive"
	UserStatusSuspended           UserStatus = "suspended"
	UserStatusPendingVerification UserStatus = "pending_verification"
	UserStatusLocked              UserStatus = "locked"
)

// IsValidUserStatus checks whether the given status string is a known user status.
func IsValidUserStatus(s string) bool {
	switch UserStatus(s) {
	case UserStatusActive, UserStatusInactive, UserStatusSuspended,
		UserStatusPendingVerification, UserStatusLocked:
		return true
	}
	return false
}

// User represents an identity record managed by the auth core.
type User struct {
	ID              string       `json:"id"`
	Username        string       `json:"username"`
	Email           string       `json:"email"`
	Status          UserStatus   `json:"status"`
	AuthProvider    string       `json:"auth_provider,omitempty"`
	Profile         UserProfile  `json:"profile"`
	Security        UserSecurity `json:"-"`
	Roles           []string     `json:"roles"`
	EmailVerifiedAt *time.Time   `json:"email_verified_at,omitempty"`
	ConsentAt       *time.Time   `json:"consent_at,omitempty"`
	LastLoginAt     *time.Time   `json:"last_login_at,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// UserProfile holds the non-security profile fields of a user.
type UserProfile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Locale    string `json:"locale,omitempty"`
	Timezone  string `json:"timezone,omitempty"`
	Phone     string `json:"phone,omitempty"`
}

// UserSecurity holds the security sub-record of a user. It is never
// serialized into API responses or audit payloads.
type UserSecurity struct {
	PasswordHash     string     `json:"-"`
	MFAEnabled       bool       `json:"-"`
	TOTPSecret       string     `json:"-"`
	BackupCodeHashes []string   `json:"-"`
	TrustedDevices   []string   `json:"-"`
	FailedAttempts   int        `json:"-"`
	LockUntil        *time.Time `json:"-"`
}

// IsActive reports whether the account may authenticate at all.
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// IsTrustedDevice reports whether the given device id is on the user's
// trusted-device list.
func (u *User) IsTrustedDevice(deviceID string) bool {
	for _, id := range u.Security.TrustedDevices {
		if id == deviceID {
			return true
		}
	}
	return false
}

// HasRole reports whether the user carries the named role directly.
// Inherited roles are resolved by the RBAC registry, not here.
func (u *User) HasRole(name string) bool {
	for _, r := range u.Roles {
		if r == name {
			return true
		}
	}
	return false
}
