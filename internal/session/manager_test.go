package session

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/metrics"
	"github.com/mugisham37/authcore/internal/repository/memory"
)

// staticTrust answers every trust question with a fixed value.
type staticTrust struct{ trusted bool }

func (s staticTrust) IsTrustedDevice(context.Context, string, string) (bool, error) {
	return s.trusted, nil
}

func newTestManager(t *testing.T, cfg Config, trusted bool) (*Manager, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m := NewManager(cfg, memory.NewSessionRepository(), staticTrust{trusted}, slog.Default()).
		WithClock(func() time.Time { return now })
	return m, &now
}

func testDevice(id string) domain.DeviceInfo {
	return domain.DeviceInfo{DeviceID: id, UserAgent: "test-agent", IPAddress: "10.0.0.1"}
}

func TestCreate_Defaults(t *testing.T) {
	m, now := newTestManager(t, DefaultConfig(), true)

	sess, err := m.Create(context.Background(), "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "u-1", sess.UserID)
	assert.Equal(t, domain.SessionStatusActive, sess.Status)
	assert.Equal(t, now.Add(24*time.Hour), sess.ExpiresAt)
	assert.NotEmpty(t, sess.Device.Fingerprint)
	assert.Less(t, sess.RiskScore, DefaultConfig().RiskThreshold)
}

func TestCreate_RememberMe(t *testing.T) {
	m, now := newTestManager(t, DefaultConfig(), true)

	sess, err := m.Create(context.Background(), "u-1", testDevice("d-1"), domain.LoginMethodPassword, true)
	require.NoError(t, err)

	assert.Equal(t, now.Add(30*24*time.Hour), sess.ExpiresAt)
}

func TestCreate_UntrustedDeviceRaisesRisk(t *testing.T) {
	trustedMgr, _ := newTestManager(t, DefaultConfig(), true)
	untrustedMgr, _ := newTestManager(t, DefaultConfig(), false)

	trustedSess, err := trustedMgr.Create(context.Background(), "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)
	untrustedSess, err := untrustedMgr.Create(context.Background(), "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	assert.Greater(t, untrustedSess.RiskScore, trustedSess.RiskScore)
}

func TestValidate_TouchesActivity(t *testing.T) {
	m, now := newTestManager(t, DefaultConfig(), true)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	*now = now.Add(30 * time.Minute)
	ok, err := m.Validate(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, *now, got.LastActivityAt)
}

func TestValidate_UnknownSession(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), true)

	ok, err := m.Validate(context.Background(), "no-such-session", nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestValidate_IdleTimeout(t *testing.T) {
	m, now := newTestManager(t, DefaultConfig(), true)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	*now = now.Add(2*time.Hour + time.Minute)
	ok, err := m.Validate(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusRevoked, got.Status)
	assert.Equal(t, ReasonIdleTimeout, got.RevokedReason)
}

func TestValidate_MaxDuration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.IdleTimeout = 30 * 24 * time.Hour // keep idle out of the way
	cfg.RememberMeDuration = 30 * 24 * time.Hour
	m, now := newTestManager(t, cfg, true)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, true)
	require.NoError(t, err)

	*now = now.Add(7*24*time.Hour + time.Minute)
	ok, err := m.Validate(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, ReasonMaxDuration, got.RevokedReason)
}

func TestValidate_FingerprintMismatch(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), true)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	other := testDevice("d-2")
	ok, err := m.Validate(ctx, sess.ID, &other)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := m.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusSuspicious, got.Status)
	assert.Equal(t, 1, got.SuspiciousEventCount())
}

func TestValidate_ExpiredSession(t *testing.T) {
	m, now := newTestManager(t, DefaultConfig(), true)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	*now = now.Add(25 * time.Hour)
	ok, err := m.Validate(ctx, sess.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConcurrencyLimit_EvictsLeastRecentlyActive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentSessions = 2
	m, now := newTestManager(t, cfg, true)
	ctx := context.Background()

	first, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	second, err := m.Create(ctx, "u-1", testDevice("d-2"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	*now = now.Add(time.Minute)
	third, err := m.Create(ctx, "u-1", testDevice("d-3"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	gotFirst, err := m.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionStatusRevoked, gotFirst.Status)
	assert.Equal(t, ReasonConcurrentLimit, gotFirst.RevokedReason)

	active, err := m.ListUserSessions(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, active, 2)
	ids := []string{active[0].ID, active[1].ID}
	assert.Contains(t, ids, second.ID)
	assert.Contains(t, ids, third.ID)
}

func TestRevoke_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), true)
	ctx := context.Background()

	sess, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	require.NoError(t, m.Revoke(ctx, sess.ID, ReasonLogout))
	require.NoError(t, m.Revoke(ctx, sess.ID, ReasonLogout))
	require.NoError(t, m.Revoke(ctx, "no-such-session", ReasonLogout))
}

func TestRevokeUserSessions(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), true)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
		require.NoError(t, err)
	}
	_, err := m.Create(ctx, "u-2", testDevice("d-9"), domain.LoginMethodPassword, false)
	require.NoError(t, err)

	n, err := m.RevokeUserSessions(ctx, "u-1", ReasonCredentialsChanged)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	active, err := m.ListUserSessions(ctx, "u-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	otherActive, err := m.ListUserSessions(ctx, "u-2")
	require.NoError(t, err)
	assert.Len(t, otherActive, 1)
}

func TestFingerprint_Deterministic(t *testing.T) {
	a := Fingerprint(domain.DeviceInfo{DeviceID: "d-1", UserAgent: "ua"})
	b := Fingerprint(domain.DeviceInfo{DeviceID: "d-1", UserAgent: "ua"})
	c := Fingerprint(domain.DeviceInfo{DeviceID: "d-2", UserAgent: "ua"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestIsUnusualHour(t *testing.T) {
	m, _ := newTestManager(t, DefaultConfig(), true)

	assert.True(t, m.isUnusualHour(time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)))
	assert.False(t, m.isUnusualHour(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	// Window wrapping midnight.
	m.cfg.UnusualHoursStart, m.cfg.UnusualHoursEnd = 22, 6
	assert.True(t, m.isUnusualHour(time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC)))
	assert.True(t, m.isUnusualHour(time.Date(2025, 6, 1, 5, 0, 0, 0, time.UTC)))
	assert.False(t, m.isUnusualHour(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)))

	// Start == End disables the check.
	m.cfg.UnusualHoursStart, m.cfg.UnusualHoursEnd = 0, 0
	assert.False(t, m.isUnusualHour(time.Date(2025, 6, 1, 3, 0, 0, 0, time.UTC)))
}

func TestCleanupExpired_SettlesActiveSessionsGauge(t *testing.T) {
	m, now := newTestManager(t, DefaultConfig(), true)
	ctx := context.Background()

	before := testutil.ToFloat64(metrics.ActiveSessions)

	lapsed, err := m.Create(ctx, "u-1", testDevice("d-1"), domain.LoginMethodPassword, false)
	require.NoError(t, err)
	revoked, err := m.Create(ctx, "u-1", testDevice("d-2"), domain.LoginMethodPassword, false)
	require.NoError(t, err)
	require.NoError(t, m.Revoke(ctx, revoked.ID, ReasonLogout))

	// Both sessions lapse by absolute expiry; the revoked one already gave
	// back its gauge slot, the lapsed one settles during cleanup.
	*now = now.Add(DefaultConfig().SessionTimeout + time.Minute)
	removed, err := m.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	assert.InDelta(t, before, testutil.ToFloat64(metrics.ActiveSessions), 0.001)
	_, err = m.Get(ctx, lapsed.ID)
	assert.Error(t, err)
}
