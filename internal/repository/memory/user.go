// Package memory provides in-memory repository implementations. They back
// unit tests and single-node deployments; every write happens under a store
// mutex so multi-index invariants hold across concurrent callers.
package memory

import (
	"context"
	"sync"

	apperrors "github.com/mugisham37/authcore/pkg/errors"
	"github.com/mugisham37/authcore/internal/domain"
)

// UserRepository implements repository.UserRepository in memory.
type UserRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.User
	byUsername map[string]string
	byEmail    map[string]string
}

// NewUserRepository creates an empty in-memory user repository.
func NewUserRepository() *UserRepository {
	return &UserRepository{
		byID:       make(map[string]*domain.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
	}
}

// Create inserts a new user, enforcing username and email uniqueness.
func (r *UserRepository) Create(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[user.ID]; ok {
		return apperrors.AlreadyExists("user", "id", user.ID)
	}
	if _, ok := r.byUsername[user.Username]; ok {
		return apperrors.AlreadyExists("user", "username", user.Username)
	}
	if _, ok := r.byEmail[user.Email]; ok {
		return apperrors.AlreadyExists("user", "email", user.Email)
	}

	cp := cloneUser(user)
	r.byID[user.ID] = cp
	r.byUsername[user.Username] = user.ID
	r.byEmail[user.Email] = user.ID
	return nil
}

// GetByID retrieves a user by id.
func (r *UserRepository) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return cloneUser(u), nil
}

// GetByUsername retrieves a user by username.
func (r *UserRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byUsername[username]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("user", username)
	}
	return r.GetByID(ctx, id)
}

// GetByEmail retrieves a user by email.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.RLock()
	id, ok := r.byEmail[email]
	r.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("user", email)
	}
	return r.GetByID(ctx, id)
}

// Update replaces an existing user record.
func (r *UserRepository) Update(_ context.Context, user *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	old, ok := r.byID[user.ID]
	if !ok {
		return apperrors.NotFound("user", user.ID)
	}
	if old.Username != user.Username {
		delete(r.byUsername, old.Username)
		r.byUsername[user.Username] = user.ID
	}
	if old.Email != user.Email {
		delete(r.byEmail, old.Email)
		r.byEmail[user.Email] = user.ID
	}
	r.byID[user.ID] = cloneUser(user)
	return nil
}

// cloneUser copies a user so callers never share the stored pointer.
func cloneUser(u *domain.User) *domain.User {
	cp := *u
	cp.Roles = append([]string(nil), u.Roles...)
	cp.Security.BackupCodeHashes = append([]string(nil), u.Security.BackupCodeHashes...)
	cp.Security.TrustedDevices = append([]string(nil), u.Security.TrustedDevices...)
	return &cp
}
