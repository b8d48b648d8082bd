package memory

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/mugisham37/authcore/pkg/errors"
	"github.com/mugisham37/authcore/internal/domain"
)

// RefreshTokenRepository implements the refresh token registry in memory.
type RefreshTokenRepository struct {
	mu      sync.RWMutex
	byToken map[string]*domain.RefreshTokenRecord
	byUser  map[string]map[string]struct{}
}

// NewRefreshTokenRepository creates an empty in-memory token registry.
func NewRefreshTokenRepository() *RefreshTokenRepository {
	return &RefreshTokenRepository{
		byToken: make(map[string]*domain.RefreshTokenRecord),
		byUser:  make(map[string]map[string]struct{}),
	}
}

// Create stores a new refresh token record.
func (r *RefreshTokenRepository) Create(_ context.Context, rec *domain.RefreshTokenRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *rec
	r.byToken[rec.TokenID] = &cp
	if r.byUser[rec.UserID] == nil {
		r.byUser[rec.UserID] = make(map[string]struct{})
	}
	r.byUser[rec.UserID][rec.TokenID] = struct{}{}
	return nil
}

// GetByTokenID retrieves a record by token id.
func (r *RefreshTokenRepository) GetByTokenID(_ context.Context, tokenID string) (*domain.RefreshTokenRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.byToken[tokenID]
	if !ok {
		return nil, apperrors.NotFound("refresh token", tokenID)
	}
	cp := *rec
	return &cp, nil
}

// Revoke marks a token inactive. Unknown or already revoked ids succeed.
func (r *RefreshTokenRepository) Revoke(_ context.Context, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rec, ok := r.byToken[tokenID]; ok {
		rec.IsActive = false
	}
	return nil
}

// RevokeByUserID marks every active token for the user inactive.
func (r *RefreshTokenRepository) RevokeByUserID(_ context.Context, userID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for tokenID := range r.byUser[userID] {
		if rec, ok := r.byToken[tokenID]; ok && rec.IsActive {
			rec.IsActive = false
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes records expired before the cutoff.
func (r *RefreshTokenRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for tokenID, rec := range r.byToken {
		if rec.ExpiresAt.Before(cutoff) {
			delete(r.byToken, tokenID)
			delete(r.byUser[rec.UserID], tokenID)
			n++
		}
	}
	return n, nil
}
