package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository"
)

// AuditEventRepository stores audit events in memory, append-only.
type AuditEventRepository struct {
	mu     sync.RWMutex
	events []*domain.AuditEvent
}

// NewAuditEventRepository creates an empty in-memory audit store.
func NewAuditEventRepository() *AuditEventRepository {
	return &AuditEventRepository{}
}

// Append stores an audit event.
func (r *AuditEventRepository) Append(_ context.Context, event *domain.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *event
	r.events = append(r.events, &cp)
	return nil
}

// Query returns matching events newest first, capped by the filter limit.
func (r *AuditEventRepository) Query(_ context.Context, filter repository.AuditFilter) ([]*domain.AuditEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := filter.Limit
	if limit == 0 {
		limit = 1000
	}

	matched := make([]*domain.AuditEvent, 0)
	for _, e := range r.events {
		if matchesFilter(e, filter) {
			cp := *e
			matched = append(matched, &cp)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Timestamp.After(matched[j].Timestamp)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*domain.AuditEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of events matching the filter, ignoring Limit
// and Offset.
func (r *AuditEventRepository) Count(_ context.Context, filter repository.AuditFilter) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, e := range r.events {
		if matchesFilter(e, filter) {
			n++
		}
	}
	return n, nil
}

func matchesFilter(e *domain.AuditEvent, filter repository.AuditFilter) bool {
	if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && e.Timestamp.After(filter.To) {
		return false
	}
	if len(filter.EventTypes) > 0 {
		found := false
		for _, t := range filter.EventTypes {
			if e.EventType == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if filter.UserID != "" && e.UserID != filter.UserID {
		return false
	}
	if filter.Severity != "" && e.Severity != filter.Severity {
		return false
	}
	return true
}

// Prune removes events older than the cutoff.
func (r *AuditEventRepository) Prune(_ context.Context, cutoff time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0:0]
	for _, e := range r.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	n := len(r.events) - len(kept)
	r.events = kept
	return n, nil
}
