package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow is a per-key sliding-window counter. It answers "has this
// key performed more than limit events in the trailing window", which is the
// contract MFA delivery limits need (N sends per hour per user), independent
// of any challenge store.
type SlidingWindow struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	events  map[string][]time.Time
	nowFunc func() time.Time // injectable clock for testing
}

// NewSlidingWindow creates a limiter allowing limit events per window per key.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		events:  make(map[string][]time.Time),
		nowFunc: time.Now,
	}
}

// Allow records an event for the key and reports whether it was within the
// limit. Record-and-check is atomic per key: two concurrent callers cannot
// both land under the limit when only one slot remains.
func (s *SlidingWindow) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	kept := s.pruneLocked(key, now)
	if len(kept) >= s.limit {
		return false
	}
	s.events[key] = append(kept, now)
	return true
}

// RetryAfter returns how long until the oldest event in the key's window
// falls out, making a slot available. Zero when a slot is already free.
func (s *SlidingWindow) RetryAfter(key string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	kept := s.pruneLocked(key, now)
	s.events[key] = kept
	if len(kept) < s.limit {
		return 0
	}
	return kept[0].Add(s.window).Sub(now)
}

// Reset clears the window for a key.
func (s *SlidingWindow) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.events, key)
}

// Cleanup evicts keys whose events have all aged out. Called from an
// optional background loop; correctness never depends on it.
func (s *SlidingWindow) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFunc()
	for key := range s.events {
		if kept := s.pruneLocked(key, now); len(kept) == 0 {
			delete(s.events, key)
		} else {
			s.events[key] = kept
		}
	}
}

// pruneLocked drops events older than the window. Caller holds the lock.
func (s *SlidingWindow) pruneLocked(key string, now time.Time) []time.Time {
	cutoff := now.Add(-s.window)
	events := s.events[key]
	i := 0
	for i < len(events) && !events[i].After(cutoff) {
		i++
	}
	return events[i:]
}

// WithClock overrides the limiter's time source. Tests only.
func (s *SlidingWindow) WithClock(now func() time.Time) *SlidingWindow {
	s.nowFunc = now
	return s
}
