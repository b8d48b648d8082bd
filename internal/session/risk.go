package session

import (
	"context"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
)

// Individual risk factor weights. Each factor is capped on its own, then the
// sum is clamped to 1.0.
const (
	riskUntrustedDevice  = 0.2
	riskUnusualHours     = 0.1
	riskLongSession      = 0.1
	riskPerSuspiciousEvt = 0.1
	riskSuspiciousCap    = 0.3
)

// longSessionThreshold is the session age past which the duration factor applies.
const longSessionThreshold = 12 * time.Hour

// score recomputes the session's risk from independent factors.
func (m *Manager) score(ctx context.Context, sess *domain.Session, now time.Time) float64 {
	score := 0.0

	if m.trust != nil && sess.Device.DeviceID != "" {
		trusted, err := m.trust.IsTrustedDevice(ctx, sess.UserID, sess.Device.DeviceID)
		if err != nil || !trusted {
			score += riskUntrustedDevice
		}
	} else {
		// No device identity at all counts as untrusted.
		score += riskUntrustedDevice
	}

	if m.isUnusualHour(sess.CreatedAt) {
		score += riskUnusualHours
	}

	if sess.Age(now) > longSessionThreshold {
		score += riskLongSession
	}

	suspicious := float64(sess.SuspiciousEventCount()) * riskPerSuspiciousEvt
	if suspicious > riskSuspiciousCap {
		suspicious = riskSuspiciousCap
	}
	score += suspicious

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// isUnusualHour reports whether the time falls in the configured
// unusual-hours window. Start==End disables the check.
func (m *Manager) isUnusualHour(t time.Time) bool {
	start, end := m.cfg.UnusualHoursStart, m.cfg.UnusualHoursEnd
	if start == end {
		return false
	}
	hour := t.Hour()
	if start < end {
		return hour >= start && hour < end
	}
	// Window wraps midnight, e.g. 22-6.
	return hour >= start || hour < end
}
