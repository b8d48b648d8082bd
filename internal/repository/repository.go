package repository

import (
	"context"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
// User deletion is owned by an external system and deliberately absent.
type UserRepository interface {
	// Create inserts a new user into the store.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByUsername retrieves a user by their username.
	GetByUsername(ctx context.Context, username string) (*domain.User, error)

	// GetByEmail retrieves a user by their email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update modifies an existing user in the store.
	Update(ctx context.Context, user *domain.User) error
}

// RefreshTokenRepository defines the server-side refresh token registry.
// Revocation of a missing or already-revoked token is a no-op.
type RefreshTokenRepository interface {
	// Create stores a new refresh token record.
	Create(ctx context.Context, rec *domain.RefreshTokenRecord) error

	// GetByTokenID retrieves a record by its token id.
	GetByTokenID(ctx context.Context, tokenID string) (*domain.RefreshTokenRecord, error)

	// Revoke marks a token inactive. Idempotent.
	Revoke(ctx context.Context, tokenID string) error

	// RevokeByUserID marks every active token for the user inactive and
	// returns how many were deactivated.
	RevokeByUserID(ctx context.Context, userID string) (int, error)

	// DeleteExpired removes records whose expiry is before the cutoff.
	// Purely memory hygiene; lazy validation never depends on it.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// SessionRepository defines session persistence. Implementations must keep
// the primary record and the per-user/per-device indexes consistent: a
// session never exists in one but not the other.
type SessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, session *domain.Session) error

	// GetByID retrieves a session by id.
	GetByID(ctx context.Context, id string) (*domain.Session, error)

	// ListByUserID returns all sessions for the user, any status.
	ListByUserID(ctx context.Context, userID string) ([]*domain.Session, error)

	// ListByDeviceID returns all sessions bound to the device.
	ListByDeviceID(ctx context.Context, deviceID string) ([]*domain.Session, error)

	// Update persists mutations to an existing session.
	Update(ctx context.Context, session *domain.Session) error

	// Delete removes a session from the primary store and every index.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes sessions whose absolute expiry is before the
	// cutoff, returning the total removed and how many of those were still
	// in active status (never revoked or marked suspicious).
	DeleteExpired(ctx context.Context, cutoff time.Time) (removed, active int, err error)
}

// ChallengeRepository defines MFA challenge persistence.
type ChallengeRepository interface {
	// Create inserts a new challenge.
	Create(ctx context.Context, ch *domain.MFAChallenge) error

	// GetByID retrieves a challenge by id.
	GetByID(ctx context.Context, id string) (*domain.MFAChallenge, error)

	// Update persists mutations to an existing challenge.
	Update(ctx context.Context, ch *domain.MFAChallenge) error

	// IncrementAttempts atomically increments the attempt counter and
	// returns the new value. This is the ordering point for concurrent
	// verification: increment first, compare after.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// DeleteExpired removes challenges expired before the cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int, error)
}

// LoginAttemptRepository stores append-only login attempts for
// sliding-window analysis. Pruning must not break windowed reads in flight.
type LoginAttemptRepository interface {
	// Record appends a login attempt.
	Record(ctx context.Context, attempt *domain.LoginAttempt) error

	// ListByUserSince returns attempts for the user newer than since.
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*domain.LoginAttempt, error)

	// ListByIPSince returns attempts from the IP newer than since.
	ListByIPSince(ctx context.Context, ip string, since time.Time) ([]*domain.LoginAttempt, error)

	// ClearUser removes the user's attempt window (after a successful login).
	ClearUser(ctx context.Context, userID string) error

	// Prune removes attempts older than the cutoff per retention policy.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// LockoutRepository stores account lockout records. Records persist past
// their expiry; liveness is always recomputed from LockedUntil.
type LockoutRepository interface {
	// Upsert creates or replaces the current lockout for a user and
	// appends to the user's lockout history.
	Upsert(ctx context.Context, lockout *domain.AccountLockout) error

	// GetByUserID retrieves the current lockout record, if any.
	GetByUserID(ctx context.Context, userID string) (*domain.AccountLockout, error)

	// CountSince counts lockout events recorded for the user since the
	// cutoff, feeding the progressive-penalty multiplier. History survives
	// Clear so repeated offenders keep escalating.
	CountSince(ctx context.Context, userID string, since time.Time) (int, error)

	// Clear removes the current lockout for a user. Idempotent.
	Clear(ctx context.Context, userID string) error
}

// AuditEventRepository stores append-only audit events.
type AuditEventRepository interface {
	// Append stores an audit event.
	Append(ctx context.Context, event *domain.AuditEvent) error

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, filter AuditFilter) ([]*domain.AuditEvent, error)

	// Count returns the number of events matching the filter, ignoring
	// Limit and Offset.
	Count(ctx context.Context, filter AuditFilter) (int, error)

	// Prune removes events older than the cutoff per retention policy.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}

// AuditFilter narrows an audit event query. Zero values mean "any".
// Limit 0 applies the implementation default (1000); a negative Limit
// disables the cap for report generation.
type AuditFilter struct {
	From       time.Time
	To         time.Time
	EventTypes []domain.AuditEventType
	UserID     string
	Severity   domain.AuditSeverity
	Limit      int
	Offset     int
}
