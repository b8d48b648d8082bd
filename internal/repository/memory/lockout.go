package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
)

// LockoutRepository stores account lockouts in memory. The current lockout
// and a timestamped history are kept separately: Clear drops only the
// current record so repeated offenders keep escalating.
type LockoutRepository struct {
	mu      sync.RWMutex
	current map[string]*domain.AccountLockout
	history map[string][]time.Time
}

// NewLockoutRepository creates an empty in-memory lockout store.
func NewLockoutRepository() *LockoutRepository {
	return &LockoutRepository{
		current: make(map[string]*domain.AccountLockout),
		history: make(map[string][]time.Time),
	}
}

// Upsert replaces the current lockout and appends to the history.
func (r *LockoutRepository) Upsert(_ context.Context, lockout *domain.AccountLockout) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *lockout
	cp.SourceIPs = append([]string(nil), lockout.SourceIPs...)
	r.current[lockout.UserID] = &cp
	r.history[lockout.UserID] = append(r.history[lockout.UserID], lockout.LockedAt)
	return nil
}

// GetByUserID returns the current lockout, or nil when none exists.
func (r *LockoutRepository) GetByUserID(_ context.Context, userID string) (*domain.AccountLockout, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lock, ok := r.current[userID]
	if !ok {
		return nil, nil
	}
	cp := *lock
	cp.SourceIPs = append([]string(nil), lock.SourceIPs...)
	return &cp, nil
}

// CountSince counts lockout events for the user since the cutoff.
func (r *LockoutRepository) CountSince(_ context.Context, userID string, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, at := range r.history[userID] {
		if at.After(since) {
			n++
		}
	}
	return n, nil
}

// Clear removes the current lockout. History is retained.
func (r *LockoutRepository) Clear(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.current, userID)
	return nil
}
