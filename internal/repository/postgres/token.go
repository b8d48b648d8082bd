package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mugisham37/authcore/internal/domain"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

// RefreshTokenRepository implements the refresh token registry using PostgreSQL.
type RefreshTokenRepository struct {
	db DB
}

// NewRefreshTokenRepository creates a new PostgreSQL-backed refresh token repository.
func NewRefreshTokenRepository(db DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Create stores a new refresh token record.
func (r *RefreshTokenRepository) Create(ctx context.Context, rec *domain.RefreshTokenRecord) error {
	query := `
		INSERT INTO refresh_tokens (token_id, user_id, created_at, expires_at, is_active)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		rec.TokenID,
		rec.UserID,
		rec.CreatedAt,
		rec.ExpiresAt,
		rec.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

// GetByTokenID retrieves a refresh token record by its token id.
func (r *RefreshTokenRepository) GetByTokenID(ctx context.Context, tokenID string) (*domain.RefreshTokenRecord, error) {
	query := `
		SELECT token_id, user_id, created_at, expires_at, is_active
		FROM refresh_tokens
		WHERE token_id = $1`

	var rec domain.RefreshTokenRecord
	err := r.db.QueryRow(ctx, query, tokenID).Scan(
		&rec.TokenID,
		&rec.UserID,
		&rec.CreatedAt,
		&rec.ExpiresAt,
		&rec.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}

	return &rec, nil
}

// Revoke marks a token inactive. Revoking a missing or already-revoked token
// is a no-op.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenID string) error {
	query := `UPDATE refresh_tokens SET is_active = false WHERE token_id = $1 AND is_active = true`

	_, err := r.db.Exec(ctx, query, tokenID)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	return nil
}

// RevokeByUserID marks every active token for the user inactive and returns
// how many were deactivated.
func (r *RefreshTokenRepository) RevokeByUserID(ctx context.Context, userID string) (int, error) {
	query := `UPDATE refresh_tokens SET is_active = false WHERE user_id = $1 AND is_active = true`

	ct, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke refresh tokens by user: %w", err)
	}

	return int(ct.RowsAffected()), nil
}

// DeleteExpired removes records whose expiry is before the cutoff.
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at < $1`

	ct, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	return int(ct.RowsAffected()), nil
}
