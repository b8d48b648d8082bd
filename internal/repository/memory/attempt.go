package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
)

// LoginAttemptRepository stores login attempts in memory for sliding-window
// analysis. Reads return copies, so pruning never invalidates results a
// caller is still iterating.
type LoginAttemptRepository struct {
	mu     sync.RWMutex
	byUser map[string][]*domain.LoginAttempt
	byIP   map[string][]*domain.LoginAttempt
}

// NewLoginAttemptRepository creates an empty in-memory attempt store.
func NewLoginAttemptRepository() *LoginAttemptRepository {
	return &LoginAttemptRepository{
		byUser: make(map[string][]*domain.LoginAttempt),
		byIP:   make(map[string][]*domain.LoginAttempt),
	}
}

// Record appends a login attempt to both indexes.
func (r *LoginAttemptRepository) Record(_ context.Context, attempt *domain.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *attempt
	if attempt.UserID != "" {
		r.byUser[attempt.UserID] = append(r.byUser[attempt.UserID], &cp)
	}
	if attempt.IPAddress != "" {
		r.byIP[attempt.IPAddress] = append(r.byIP[attempt.IPAddress], &cp)
	}
	return nil
}

// ListByUserSince returns the user's attempts newer than since.
func (r *LoginAttemptRepository) ListByUserSince(_ context.Context, userID string, since time.Time) ([]*domain.LoginAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterSince(r.byUser[userID], since), nil
}

// ListByIPSince returns the IP's attempts newer than since.
func (r *LoginAttemptRepository) ListByIPSince(_ context.Context, ip string, since time.Time) ([]*domain.LoginAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return filterSince(r.byIP[ip], since), nil
}

// ClearUser drops the user's window. The IP index keeps its entries so
// per-IP brute-force analysis survives an attacker landing one success.
func (r *LoginAttemptRepository) ClearUser(_ context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byUser, userID)
	return nil
}

// Prune removes attempts older than the cutoff from both indexes.
func (r *LoginAttemptRepository) Prune(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for key, attempts := range r.byUser {
		kept := keepAfter(attempts, cutoff)
		n += len(attempts) - len(kept)
		if len(kept) == 0 {
			delete(r.byUser, key)
		} else {
			r.byUser[key] = kept
		}
	}
	for key, attempts := range r.byIP {
		kept := keepAfter(attempts, cutoff)
		if len(kept) == 0 {
			delete(r.byIP, key)
		} else {
			r.byIP[key] = kept
		}
	}
	return n, nil
}

func filterSince(attempts []*domain.LoginAttempt, since time.Time) []*domain.LoginAttempt {
	out := make([]*domain.LoginAttempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Timestamp.After(since) {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out
}

func keepAfter(attempts []*domain.LoginAttempt, cutoff time.Time) []*domain.LoginAttempt {
	kept := attempts[:0:0]
	for _, a := range attempts {
		if a.Timestamp.After(cutoff) {
			kept = append(kept, a)
		}
	}
	return kept
}
