package lockout

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository/memory"
)

func newTestDetector(t *testing.T, cfg Config) (*Detector, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NewDetector(cfg, memory.NewLoginAttemptRepository(), memory.NewLockoutRepository(), slog.Default()).
		WithClock(func() time.Time { return now })
	return d, &now
}

func failure(userID, ip string) *domain.LoginAttempt {
	return &domain.LoginAttempt{UserID: userID, Username: userID, IPAddress: ip, Success: false}
}

func TestRecordLoginAttempt_LocksAtThreshold(t *testing.T) {
	d, _ := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		res, err := d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
		require.NoError(t, err)
		assert.False(t, res.Locked, "attempt %d must not lock", i+1)
	}

	res, err := d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, res.Locked)
	assert.Equal(t, domain.LockoutReasonFailedAttempts, res.LockoutReason)
	assert.Equal(t, 15*time.Minute, res.LockoutDuration)
	assert.True(t, res.RequireCaptcha)

	locked, lock, err := d.IsAccountLocked(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, 5, lock.AttemptCount)
}

func TestRecordLoginAttempt_AttemptsRemainingWithheldAfterCaptcha(t *testing.T) {
	d, _ := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	res, err := d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, 4, res.AttemptsRemaining)
	assert.False(t, res.RequireCaptcha)

	d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))

	// Third failure reaches the captcha threshold: the count disappears.
	res, err = d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
	require.NoError(t, err)
	assert.True(t, res.RequireCaptcha)
	assert.Zero(t, res.AttemptsRemaining)
}

func TestRecordLoginAttempt_SuccessClearsWindowAndLock(t *testing.T) {
	d, _ := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
	}
	locked, _, err := d.IsAccountLocked(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, locked)

	_, err = d.RecordLoginAttempt(ctx, &domain.LoginAttempt{UserID: "u-1", Success: true})
	require.NoError(t, err)

	locked, _, err = d.IsAccountLocked(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, locked)

	// The failure window restarted: a single new failure reports a full count.
	res, err := d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
	require.NoError(t, err)
	assert.False(t, res.Locked)
	assert.Equal(t, 4, res.AttemptsRemaining)
}

func TestRecordLoginAttempt_WindowSlides(t *testing.T) {
	d, now := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
	}

	// An hour later the old failures have aged out.
	*now = now.Add(time.Hour + time.Minute)
	res, err := d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
	require.NoError(t, err)
	assert.False(t, res.Locked)
	assert.Equal(t, 4, res.AttemptsRemaining)
}

func TestLockExpiresLazily(t *testing.T) {
	d, now := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
	}
	locked, _, err := d.IsAccountLocked(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, locked)

	*now = now.Add(16 * time.Minute)
	locked, _, err = d.IsAccountLocked(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, locked, "expired lock reads as unlocked without any write")
}

func TestProgressiveLockDuration(t *testing.T) {
	d, now := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	lockAndUnlock := func() *domain.AttemptResult {
		var last *domain.AttemptResult
		for i := 0; i < 5; i++ {
			res, err := d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
			require.NoError(t, err)
			last = res
		}
		return last
	}

	// Five lockouts within 24h raise the exponent by one: 15m -> 30m.
	var res *domain.AttemptResult
	for round := 0; round < 5; round++ {
		res = lockAndUnlock()
		require.True(t, res.Locked)
		require.NoError(t, d.Unlock(ctx, "u-1"))
		*now = now.Add(time.Minute)
	}

	res = lockAndUnlock()
	require.True(t, res.Locked)
	assert.Equal(t, 30*time.Minute, res.LockoutDuration)
}

func TestLockDurationCapped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseLockDuration = 20 * time.Hour
	d, _ := newTestDetector(t, cfg)
	ctx := context.Background()

	// Force a second-tier lock by seeding history past one full lockout cycle.
	for i := 0; i < 10; i++ {
		for j := 0; j < 5; j++ {
			d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
		}
		d.Unlock(ctx, "u-1")
	}
	var res *domain.AttemptResult
	for j := 0; j < 5; j++ {
		r, err := d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
		require.NoError(t, err)
		res = r
	}
	require.True(t, res.Locked)
	assert.Equal(t, 24*time.Hour, res.LockoutDuration)
}

func TestDetectSuspicious_ManyIPsForOneUser(t *testing.T) {
	d, _ := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := d.RecordLoginAttempt(ctx, failure("u-1", fmt.Sprintf("10.0.0.%d", i+1)))
		require.NoError(t, err)
	}
	res, err := d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.6"))
	require.NoError(t, err)
	assert.True(t, res.SuspiciousActivity, "more than 5 distinct IPs within the hour")
}

func TestDetectSuspicious_OneIPManyUsers(t *testing.T) {
	d, _ := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := d.RecordLoginAttempt(ctx, failure(fmt.Sprintf("u-%d", i), "203.0.113.7"))
		require.NoError(t, err)
	}
	res, err := d.RecordLoginAttempt(ctx, failure("u-10", "203.0.113.7"))
	require.NoError(t, err)
	assert.True(t, res.SuspiciousActivity, "more than 10 distinct users from one IP")
}

func TestLockAndUnlock_Explicit(t *testing.T) {
	d, _ := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, d.Lock(ctx, "u-1", domain.LockoutReasonAdminLock, 0))
	locked, lock, err := d.IsAccountLocked(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Nil(t, lock.LockedUntil, "zero duration means permanent")

	require.NoError(t, d.Unlock(ctx, "u-1"))
	locked, _, err = d.IsAccountLocked(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, locked)

	// Unlocking an unlocked account is a no-op.
	assert.NoError(t, d.Unlock(ctx, "u-1"))
}

func TestRecordLoginAttempt_ConcurrentFailuresCannotSkipLock(t *testing.T) {
	d, _ := newTestDetector(t, DefaultConfig())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.RecordLoginAttempt(ctx, failure("u-1", "10.0.0.1"))
		}()
	}
	wg.Wait()

	locked, _, err := d.IsAccountLocked(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, locked, "20 concurrent failures must trip the 5-failure lock")
}
