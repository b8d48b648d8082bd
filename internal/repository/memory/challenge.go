package memory

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/mugisham37/authcore/pkg/errors"
	"github.com/mugisham37/authcore/internal/domain"
)

// ChallengeRepository implements MFA challenge storage in memory.
type ChallengeRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.MFAChallenge
}

// NewChallengeRepository creates an empty in-memory challenge store.
func NewChallengeRepository() *ChallengeRepository {
	return &ChallengeRepository{byID: make(map[string]*domain.MFAChallenge)}
}

// Create inserts a new challenge.
func (r *ChallengeRepository) Create(_ context.Context, ch *domain.MFAChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[ch.ID]; ok {
		return apperrors.AlreadyExists("challenge", "id", ch.ID)
	}
	r.byID[ch.ID] = cloneChallenge(ch)
	return nil
}

// GetByID retrieves a challenge by id.
func (r *ChallengeRepository) GetByID(_ context.Context, id string) (*domain.MFAChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("challenge", id)
	}
	return cloneChallenge(ch), nil
}

// Update replaces an existing challenge record.
func (r *ChallengeRepository) Update(_ context.Context, ch *domain.MFAChallenge) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[ch.ID]; !ok {
		return apperrors.NotFound("challenge", ch.ID)
	}
	r.byID[ch.ID] = cloneChallenge(ch)
	return nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the new
// value, holding the store lock for the whole read-modify-write.
func (r *ChallengeRepository) IncrementAttempts(_ context.Context, id string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.byID[id]
	if !ok {
		return 0, apperrors.NotFound("challenge", id)
	}
	ch.Attempts++
	return ch.Attempts, nil
}

// DeleteExpired removes challenges expired before the cutoff.
func (r *ChallengeRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, ch := range r.byID {
		if ch.ExpiresAt.Before(cutoff) {
			delete(r.byID, id)
			n++
		}
	}
	return n, nil
}

func cloneChallenge(c *domain.MFAChallenge) *domain.MFAChallenge {
	cp := *c
	if c.Metadata != nil {
		cp.Metadata = make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
