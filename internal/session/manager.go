package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/metrics"
	"github.com/mugisham37/authcore/internal/repository"
)

// Revocation reasons recorded on sessions.
const (
	ReasonConcurrentLimit    = "concurrent_limit_exceeded"
	ReasonIdleTimeout        = "idle_timeout"
	ReasonMaxDuration        = "max_duration_exceeded"
	ReasonLogout             = "logout"
	ReasonAdminRevoked       = "admin_revoked"
	ReasonCredentialsChanged = "credentials_changed"
)

// Config holds session manager settings.
type Config struct {
	// SessionTimeout is the default absolute expiry for new sessions.
	SessionTimeout time.Duration
	// RememberMeDuration replaces SessionTimeout when remember-me is set.
	RememberMeDuration time.Duration
	// IdleTimeout revokes sessions idle longer than this.
	IdleTimeout time.Duration
	// MaxSessionDuration revokes sessions older than this regardless of
	// activity or expiry extension.
	MaxSessionDuration time.Duration
	// MaxConcurrentSessions is the per-user active session cap; the least
	// recently active sessions are evicted to make room.
	MaxConcurrentSessions int
	// RiskThreshold marks sessions suspicious when the recomputed risk
	// score exceeds it.
	RiskThreshold float64
	// UnusualHoursStart/End bound the local-time window treated as unusual
	// for logins (e.g. 0-5 for midnight to 5am).
	UnusualHoursStart int
	UnusualHoursEnd   int
}

// DefaultConfig returns the baseline session settings.
func DefaultConfig() Config {
	return Config{
		SessionTimeout:        24 * time.Hour,
		RememberMeDuration:    30 * 24 * time.Hour,
		IdleTimeout:           2 * time.Hour,
		MaxSessionDuration:    7 * 24 * time.Hour,
		MaxConcurrentSessions: 5,
		RiskThreshold:         0.7,
		UnusualHoursStart:     0,
		UnusualHoursEnd:       5,
	}
}

// TrustChecker answers whether a device is trusted for a user. Implemented
// by the user repository adapter in the service layer.
type TrustChecker interface {
	IsTrustedDevice(ctx context.Context, userID, deviceID string) (bool, error)
}

// Manager owns session lifecycle: creation with concurrency caps, validation
// with idle/absolute timeout enforcement, risk scoring, and revocation.
type Manager struct {
	cfg      Config
	sessions repository.SessionRepository
	trust    TrustChecker
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates a session manager over the given store.
func NewManager(cfg Config, sessions repository.SessionRepository, trust TrustChecker, logger *slog.Logger) *Manager {
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = DefaultConfig().MaxConcurrentSessions
	}
	if cfg.RiskThreshold <= 0 {
		cfg.RiskThreshold = DefaultConfig().RiskThreshold
	}
	return &Manager{
		cfg:      cfg,
		sessions: sessions,
		trust:    trust,
		logger:   logger,
		now:      time.Now,
	}
}

// Fingerprint derives the device fingerprint tracked on sessions.
func Fingerprint(device domain.DeviceInfo) string {
	sum := sha256.Sum256([]byte(device.DeviceID + "|" + device.UserAgent))
	return hex.EncodeToString(sum[:])
}

// Create starts a new session for the user, evicting the least recently
// active sessions if the user is at the concurrency cap.
func (m *Manager) Create(ctx context.Context, userID string, device domain.DeviceInfo, method domain.LoginMethod, rememberMe bool) (*domain.Session, error) {
	now := m.now().UTC()

	if err := m.enforceConcurrencyLimit(ctx, userID, now); err != nil {
		return nil, err
	}

	timeout := m.cfg.SessionTimeout
	if rememberMe {
		timeout = m.cfg.RememberMeDuration
	}

	if device.Fingerprint == "" {
		device.Fingerprint = Fingerprint(device)
	}

	sess := &domain.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		Device:         device,
		Status:         domain.SessionStatusActive,
		LoginMethod:    method,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(timeout),
	}
	sess.RiskScore = m.score(ctx, sess, now)

	if err := m.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	metrics.ActiveSessions.Inc()

	m.logger.InfoContext(ctx, "session created",
		slog.String("session_id", sess.ID),
		slog.String("user_id", userID),
		slog.String("login_method", string(method)),
		slog.Float64("risk_score", sess.RiskScore),
	)

	return sess, nil
}

// Validate checks a session against fingerprint, idle timeout, absolute
// duration, and the risk threshold. A passing session has its activity
// touched; a failing one is marked suspicious or revoked with the matching
// reason, and false is returned.
func (m *Manager) Validate(ctx context.Context, sessionID string, device *domain.DeviceInfo) (bool, error) {
	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return false, nil
	}

	now := m.now().UTC()
	if !sess.IsActive(now) {
		return false, nil
	}

	if device != nil {
		fp := device.Fingerprint
		if fp == "" {
			fp = Fingerprint(*device)
		}
		if sess.Device.Fingerprint != "" && fp != sess.Device.Fingerprint {
			return false, m.markSuspicious(ctx, sess, "device fingerprint mismatch", now)
		}
	}

	if sess.IdleTime(now) > m.cfg.IdleTimeout {
		return false, m.revoke(ctx, sess, ReasonIdleTimeout, now)
	}

	if sess.Age(now) > m.cfg.MaxSessionDuration {
		return false, m.revoke(ctx, sess, ReasonMaxDuration, now)
	}

	if score := m.score(ctx, sess, now); score > m.cfg.RiskThreshold {
		sess.RiskScore = score
		return false, m.markSuspicious(ctx, sess, fmt.Sprintf("risk score %.2f above threshold", score), now)
	}

	sess.LastActivityAt = now
	if err := m.sessions.Update(ctx, sess); err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return true, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	return m.sessions.GetByID(ctx, sessionID)
}

// ListUserSessions returns the user's sessions that are still active.
func (m *Manager) ListUserSessions(ctx context.Context, userID string) ([]*domain.Session, error) {
	all, err := m.sessions.ListByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	now := m.now().UTC()
	active := make([]*domain.Session, 0, len(all))
	for _, s := range all {
		if s.IsActive(now) {
			active = append(active, s)
		}
	}
	return active, nil
}

// Revoke revokes a single session. Revoking a missing or already revoked
// session is a no-op so racing logouts cannot fail.
func (m *Manager) Revoke(ctx context.Context, sessionID, reason string) error {
	sess, err := m.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil
	}
	if sess.Status == domain.SessionStatusRevoked {
		return nil
	}
	return m.revoke(ctx, sess, reason, m.now().UTC())
}

// RevokeUserSessions revokes every active session for the user and returns
// the number affected.
func (m *Manager) RevokeUserSessions(ctx context.Context, userID, reason string) (int, error) {
	all, err := m.sessions.ListByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	return m.revokeAll(ctx, all, reason)
}

// RevokeDeviceSessions revokes every active session bound to the device.
func (m *Manager) RevokeDeviceSessions(ctx context.Context, deviceID, reason string) (int, error) {
	all, err := m.sessions.ListByDeviceID(ctx, deviceID)
	if err != nil {
		return 0, fmt.Errorf("list device sessions: %w", err)
	}
	return m.revokeAll(ctx, all, reason)
}

// CleanupExpired removes sessions past their absolute expiry. Optional
// memory hygiene; validation never depends on it. Sessions that lapsed
// while still active never went through revoke, so the gauge is settled
// here instead.
func (m *Manager) CleanupExpired(ctx context.Context) (int, error) {
	removed, active, err := m.sessions.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return removed, err
	}
	if active > 0 {
		metrics.ActiveSessions.Sub(float64(active))
	}
	return removed, nil
}

func (m *Manager) revokeAll(ctx context.Context, sessions []*domain.Session, reason string) (int, error) {
	now := m.now().UTC()
	n := 0
	for _, s := range sessions {
		if s.Status == domain.SessionStatusRevoked {
			continue
		}
		if err := m.revoke(ctx, s, reason, now); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Manager) revoke(ctx context.Context, sess *domain.Session, reason string, now time.Time) error {
	sess.Status = domain.SessionStatusRevoked
	sess.RevokedReason = reason
	sess.RecordEvent("revoked", reason, false, now)
	if err := m.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	metrics.ActiveSessions.Dec()
	m.logger.InfoContext(ctx, "session revoked",
		slog.String("session_id", sess.ID),
		slog.String("user_id", sess.UserID),
		slog.String("reason", reason),
	)
	return nil
}

func (m *Manager) markSuspicious(ctx context.Context, sess *domain.Session, detail string, now time.Time) error {
	sess.Status = domain.SessionStatusSuspicious
	sess.RecordEvent("suspicious", detail, true, now)
	if err := m.sessions.Update(ctx, sess); err != nil {
		return fmt.Errorf("mark session suspicious: %w", err)
	}
	m.logger.WarnContext(ctx, "session marked suspicious",
		slog.String("session_id", sess.ID),
		slog.String("user_id", sess.UserID),
		slog.String("detail", detail),
	)
	return nil
}

// enforceConcurrencyLimit revokes least-recently-active sessions until the
// new session fits under the cap.
func (m *Manager) enforceConcurrencyLimit(ctx context.Context, userID string, now time.Time) error {
	all, err := m.sessions.ListByUserID(ctx, userID)
	if err != nil {
		return fmt.Errorf("list sessions: %w", err)
	}

	active := make([]*domain.Session, 0, len(all))
	for _, s := range all {
		if s.IsActive(now) {
			active = append(active, s)
		}
	}
	if len(active) < m.cfg.MaxConcurrentSessions {
		return nil
	}

	sort.Slice(active, func(i, j int) bool {
		return active[i].LastActivityAt.Before(active[j].LastActivityAt)
	})

	evict := len(active) - m.cfg.MaxConcurrentSessions + 1
	for i := 0; i < evict; i++ {
		if err := m.revoke(ctx, active[i], ReasonConcurrentLimit, now); err != nil {
			return err
		}
		metrics.SessionsEvicted.Inc()
	}
	return nil
}

// WithClock overrides the manager's time source. Tests only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}
