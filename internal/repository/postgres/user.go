package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/pkg/database"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, email, status, auth_provider,
		first_name, last_name, locale, timezone, phone,
		password_hash, mfa_enabled, totp_secret, backup_code_hashes, trusted_devices,
		roles, email_verified_at, consent_at, last_login_at, created_at, updated_at`

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) error {
	query := `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	ctx, end := database.TraceQuery(ctx, "CreateUser", query)
	_, err := r.db.Exec(ctx, query,
		u.ID,
		u.Username,
		u.Email,
		string(u.Status),
		u.AuthProvider,
		u.Profile.FirstName,
		u.Profile.LastName,
		u.Profile.Locale,
		u.Profile.Timezone,
		u.Profile.Phone,
		u.Security.PasswordHash,
		u.Security.MFAEnabled,
		u.Security.TOTPSecret,
		u.Security.BackupCodeHashes,
		u.Security.TrustedDevices,
		u.Roles,
		u.EmailVerifiedAt,
		u.ConsentAt,
		u.LastLoginAt,
		u.CreatedAt,
		u.UpdatedAt,
	)
	end(err)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "username or email", u.Username)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, "GetUserByID", query, id)
}

// GetByUsername retrieves a user by their username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = $1`
	return r.scanUser(ctx, "GetUserByUsername", query, username)
}

// GetByEmail retrieves a user by their email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(ctx, "GetUserByEmail", query, email)
}

// Update modifies an existing user in the database.
func (r *UserRepository) Update(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE users
		SET username = $1, email = $2, status = $3, auth_provider = $4,
		    first_name = $5, last_name = $6, locale = $7, timezone = $8, phone = $9,
		    password_hash = $10, mfa_enabled = $11, totp_secret = $12,
		    backup_code_hashes = $13, trusted_devices = $14, roles = $15,
		    email_verified_at = $16, consent_at = $17, last_login_at = $18, updated_at = $19
		WHERE id = $20`

	ctx, end := database.TraceQuery(ctx, "UpdateUser", query)
	ct, err := r.db.Exec(ctx, query,
		u.Username,
		u.Email,
		string(u.Status),
		u.AuthProvider,
		u.Profile.FirstName,
		u.Profile.LastName,
		u.Profile.Locale,
		u.Profile.Timezone,
		u.Profile.Phone,
		u.Security.PasswordHash,
		u.Security.MFAEnabled,
		u.Security.TOTPSecret,
		u.Security.BackupCodeHashes,
		u.Security.TrustedDevices,
		u.Roles,
		u.EmailVerifiedAt,
		u.ConsentAt,
		u.LastLoginAt,
		u.UpdatedAt,
		u.ID,
	)
	end(err)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "username or email", u.Username)
		}
		return fmt.Errorf("update user: %w", err)
	}

	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("user", u.ID)
	}

	return nil
}

// scanUser is a helper that executes a query expected to return a single user row.
func (r *UserRepository) scanUser(ctx context.Context, op, query string, args ...any) (*domain.User, error) {
	var (
		u      domain.User
		status string
	)

	ctx, end := database.TraceQuery(ctx, op, query)
	err := r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&status,
		&u.AuthProvider,
		&u.Profile.FirstName,
		&u.Profile.LastName,
		&u.Profile.Locale,
		&u.Profile.Timezone,
		&u.Profile.Phone,
		&u.Security.PasswordHash,
		&u.Security.MFAEnabled,
		&u.Security.TOTPSecret,
		&u.Security.BackupCodeHashes,
		&u.Security.TrustedDevices,
		&u.Roles,
		&u.EmailVerifiedAt,
		&u.ConsentAt,
		&u.LastLoginAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	end(err)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.Status = domain.UserStatus(status)

	return &u, nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}
