package memory

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/mugisham37/authcore/pkg/errors"
	"github.com/mugisham37/authcore/internal/domain"
)

// SessionRepository implements session storage in memory. The primary map
// and the per-user/per-device indexes mutate under one mutex, so a session
// can never be observed in one but not the others.
type SessionRepository struct {
	mu       sync.RWMutex
	byID     map[string]*domain.Session
	byUser   map[string]map[string]struct{}
	byDevice map[string]map[string]struct{}
}

// NewSessionRepository creates an empty in-memory session store.
func NewSessionRepository() *SessionRepository {
	return &SessionRepository{
		byID:     make(map[string]*domain.Session),
		byUser:   make(map[string]map[string]struct{}),
		byDevice: make(map[string]map[string]struct{}),
	}
}

// Create inserts a new session and indexes it.
func (r *SessionRepository) Create(_ context.Context, sess *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[sess.ID]; ok {
		return apperrors.AlreadyExists("session", "id", sess.ID)
	}

	r.byID[sess.ID] = cloneSession(sess)
	if r.byUser[sess.UserID] == nil {
		r.byUser[sess.UserID] = make(map[string]struct{})
	}
	r.byUser[sess.UserID][sess.ID] = struct{}{}
	if sess.Device.DeviceID != "" {
		if r.byDevice[sess.Device.DeviceID] == nil {
			r.byDevice[sess.Device.DeviceID] = make(map[string]struct{})
		}
		r.byDevice[sess.Device.DeviceID][sess.ID] = struct{}{}
	}
	return nil
}

// GetByID retrieves a session by id.
func (r *SessionRepository) GetByID(_ context.Context, id string) (*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("session", id)
	}
	return cloneSession(sess), nil
}

// ListByUserID returns all sessions for the user.
func (r *SessionRepository) ListByUserID(_ context.Context, userID string) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Session, 0, len(r.byUser[userID]))
	for id := range r.byUser[userID] {
		if sess, ok := r.byID[id]; ok {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

// ListByDeviceID returns all sessions bound to the device.
func (r *SessionRepository) ListByDeviceID(_ context.Context, deviceID string) ([]*domain.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Session, 0, len(r.byDevice[deviceID]))
	for id := range r.byDevice[deviceID] {
		if sess, ok := r.byID[id]; ok {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

// Update replaces an existing session record.
func (r *SessionRepository) Update(_ context.Context, sess *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[sess.ID]; !ok {
		return apperrors.NotFound("session", sess.ID)
	}
	r.byID[sess.ID] = cloneSession(sess)
	return nil
}

// Delete removes a session from the primary store and every index.
func (r *SessionRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteLocked(id)
	return nil
}

// DeleteExpired removes sessions whose absolute expiry is before the cutoff,
// returning the total removed and how many were still in active status.
func (r *SessionRepository) DeleteExpired(_ context.Context, cutoff time.Time) (int, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed, active := 0, 0
	for id, sess := range r.byID {
		if sess.ExpiresAt.Before(cutoff) {
			if sess.Status == domain.SessionStatusActive {
				active++
			}
			r.deleteLocked(id)
			removed++
		}
	}
	return removed, active, nil
}

// deleteLocked removes a session and its index entries. Caller holds the lock.
func (r *SessionRepository) deleteLocked(id string) {
	sess, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if set := r.byUser[sess.UserID]; set != nil {
		delete(set, id)
		if len(set) == 0 {
			delete(r.byUser, sess.UserID)
		}
	}
	if sess.Device.DeviceID != "" {
		if set := r.byDevice[sess.Device.DeviceID]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(r.byDevice, sess.Device.DeviceID)
			}
		}
	}
}

func cloneSession(s *domain.Session) *domain.Session {
	cp := *s
	cp.SecurityEvents = append([]domain.SessionEvent(nil), s.SecurityEvents...)
	if s.Metadata != nil {
		cp.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
