package lockout

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository"
)

// Config holds lockout and anomaly detection thresholds.
type Config struct {
	// MaxFailedAttempts is the failure count that triggers a lock.
	MaxFailedAttempts int
	// ResetWindow is the sliding window for counting failures.
	ResetWindow time.Duration
	// CaptchaThreshold is the failure count after which a captcha is required.
	CaptchaThreshold int
	// BaseLockDuration is the first lock's duration.
	BaseLockDuration time.Duration
	// LockMultiplier grows the duration on repeated lockouts.
	LockMultiplier float64
	// MaxLockDuration caps the progressive penalty.
	MaxLockDuration time.Duration
	// UserIPThreshold flags a user hit from more than this many distinct
	// IPs within an hour (credential stuffing shape).
	UserIPThreshold int
	// IPUserThreshold flags an IP probing more than this many distinct
	// user ids within an hour (distributed brute force shape).
	IPUserThreshold int
}

// DefaultConfig returns the baseline thresholds.
func DefaultConfig() Config {
	return Config{
		MaxFailedAttempts: 5,
		ResetWindow:       time.Hour,
		CaptchaThreshold:  3,
		BaseLockDuration:  15 * time.Minute,
		LockMultiplier:    2.0,
		MaxLockDuration:   24 * time.Hour,
		UserIPThreshold:   5,
		IPUserThreshold:   10,
	}
}

// stripeCount is the number of per-key mutex stripes. Power of two.
const stripeCount = 64

// anomalyWindow is the trailing window for suspicious-activity heuristics.
const anomalyWindow = time.Hour

// lockoutHistoryWindow is the trailing window for the progressive penalty.
const lockoutHistoryWindow = 24 * time.Hour

// Detector tracks failed login attempts per user and per IP and applies
// progressive account lockout. Record-and-check sequences are atomic per
// user key via striped locks, so concurrent failures cannot both land under
// the threshold without one triggering the lock.
type Detector struct {
	cfg      Config
	attempts repository.LoginAttemptRepository
	lockouts repository.LockoutRepository
	stripes  [stripeCount]sync.Mutex
	logger   *slog.Logger
	now      func() time.Time
}

// NewDetector creates a lockout detector over the given stores.
func NewDetector(cfg Config, attempts repository.LoginAttemptRepository, lockouts repository.LockoutRepository, logger *slog.Logger) *Detector {
	if cfg.MaxFailedAttempts <= 0 {
		cfg.MaxFailedAttempts = DefaultConfig().MaxFailedAttempts
	}
	if cfg.ResetWindow <= 0 {
		cfg.ResetWindow = DefaultConfig().ResetWindow
	}
	if cfg.LockMultiplier < 1 {
		cfg.LockMultiplier = DefaultConfig().LockMultiplier
	}
	return &Detector{
		cfg:      cfg,
		attempts: attempts,
		lockouts: lockouts,
		logger:   logger,
		now:      time.Now,
	}
}

// RecordLoginAttempt appends the attempt and returns the lockout/captcha
// decision. A success clears the user's failure window and any active lock;
// a failure may trigger a progressive lock once the window fills.
func (d *Detector) RecordLoginAttempt(ctx context.Context, attempt *domain.LoginAttempt) (*domain.AttemptResult, error) {
	stripe := d.stripe(attempt.UserID)
	stripe.Lock()
	defer stripe.Unlock()

	now := d.now().UTC()
	attempt.Timestamp = now

	if err := d.attempts.Record(ctx, attempt); err != nil {
		return nil, fmt.Errorf("record login attempt: %w", err)
	}

	if attempt.Success {
		if err := d.attempts.ClearUser(ctx, attempt.UserID); err != nil {
			return nil, fmt.Errorf("clear attempt window: %w", err)
		}
		if err := d.lockouts.Clear(ctx, attempt.UserID); err != nil {
			return nil, fmt.Errorf("clear lockout: %w", err)
		}
		return &domain.AttemptResult{}, nil
	}

	window, err := d.attempts.ListByUserSince(ctx, attempt.UserID, now.Add(-d.cfg.ResetWindow))
	if err != nil {
		return nil, fmt.Errorf("list attempt window: %w", err)
	}

	failures := 0
	ips := make(map[string]struct{})
	for _, a := range window {
		if !a.Success {
			failures++
			if a.IPAddress != "" {
				ips[a.IPAddress] = struct{}{}
			}
		}
	}

	result := &domain.AttemptResult{}
	result.SuspiciousActivity = d.detectSuspicious(ctx, attempt, now)

	if failures >= d.cfg.MaxFailedAttempts {
		duration, err := d.lockDuration(ctx, attempt.UserID, now)
		if err != nil {
			return nil, err
		}
		until := now.Add(duration)
		lock := &domain.AccountLockout{
			UserID:       attempt.UserID,
			Reason:       domain.LockoutReasonFailedAttempts,
			LockedAt:     now,
			LockedUntil:  &until,
			AttemptCount: failures,
			SourceIPs:    keys(ips),
		}
		if err := d.lockouts.Upsert(ctx, lock); err != nil {
			return nil, fmt.Errorf("store lockout: %w", err)
		}

		d.logger.WarnContext(ctx, "account locked",
			slog.String("user_id", attempt.UserID),
			slog.Int("failed_attempts", failures),
			slog.Duration("duration", duration),
		)

		result.Locked = true
		result.LockoutReason = domain.LockoutReasonFailedAttempts
		result.LockoutDuration = duration
		result.LockoutDurationSec = int64(duration.Seconds())
		result.RequireCaptcha = true
		return result, nil
	}

	if failures >= d.cfg.CaptchaThreshold {
		// Past the captcha threshold the remaining-attempt count is
		// withheld to avoid aiding enumeration.
		result.RequireCaptcha = true
	} else {
		result.AttemptsRemaining = d.cfg.MaxFailedAttempts - failures
	}

	return result, nil
}

// IsAccountLocked recomputes lock state lazily from LockedUntil. A record
// whose expiry has passed means unlocked even though it still exists.
func (d *Detector) IsAccountLocked(ctx context.Context, userID string) (bool, *domain.AccountLockout, error) {
	lock, err := d.lockouts.GetByUserID(ctx, userID)
	if err != nil {
		return false, nil, fmt.Errorf("get lockout: %w", err)
	}
	if lock == nil || !lock.IsActive(d.now().UTC()) {
		return false, nil, nil
	}
	return true, lock, nil
}

// Lock places an explicit lock on an account, e.g. by an administrator or a
// security policy. A nil duration locks permanently until cleared.
func (d *Detector) Lock(ctx context.Context, userID string, reason domain.LockoutReason, duration time.Duration) error {
	now := d.now().UTC()
	lock := &domain.AccountLockout{
		UserID:   userID,
		Reason:   reason,
		LockedAt: now,
	}
	if duration > 0 {
		until := now.Add(duration)
		lock.LockedUntil = &until
	}
	if err := d.lockouts.Upsert(ctx, lock); err != nil {
		return fmt.Errorf("store lockout: %w", err)
	}
	return nil
}

// Unlock clears any lockout and the failure window for the user. Idempotent.
func (d *Detector) Unlock(ctx context.Context, userID string) error {
	if err := d.lockouts.Clear(ctx, userID); err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	if err := d.attempts.ClearUser(ctx, userID); err != nil {
		return fmt.Errorf("clear attempt window: %w", err)
	}
	return nil
}

// detectSuspicious runs the credential-stuffing and distributed brute-force
// heuristics over the trailing hour. The flags are signals for the audit and
// alerting layer; they never lock anything by themselves.
func (d *Detector) detectSuspicious(ctx context.Context, attempt *domain.LoginAttempt, now time.Time) bool {
	since := now.Add(-anomalyWindow)

	userAttempts, err := d.attempts.ListByUserSince(ctx, attempt.UserID, since)
	if err == nil {
		ips := make(map[string]struct{})
		for _, a := range userAttempts {
			if a.IPAddress != "" {
				ips[a.IPAddress] = struct{}{}
			}
		}
		if len(ips) > d.cfg.UserIPThreshold {
			d.logger.WarnContext(ctx, "suspicious activity: many source IPs for one user",
				slog.String("user_id", attempt.UserID),
				slog.Int("distinct_ips", len(ips)),
			)
			return true
		}
	}

	if attempt.IPAddress == "" {
		return false
	}
	ipAttempts, err := d.attempts.ListByIPSince(ctx, attempt.IPAddress, since)
	if err != nil {
		return false
	}
	users := make(map[string]struct{})
	for _, a := range ipAttempts {
		key := a.UserID
		if key == "" {
			key = a.Username
		}
		if key != "" {
			users[key] = struct{}{}
		}
	}
	if len(users) > d.cfg.IPUserThreshold {
		d.logger.WarnContext(ctx, "suspicious activity: one IP probing many users",
			slog.String("ip", attempt.IPAddress),
			slog.Int("distinct_users", len(users)),
		)
		return true
	}
	return false
}

// lockDuration applies the progressive penalty:
// base × multiplier^(floor(lockouts_in_24h / max_failed_attempts)), capped.
func (d *Detector) lockDuration(ctx context.Context, userID string, now time.Time) (time.Duration, error) {
	previous, err := d.lockouts.CountSince(ctx, userID, now.Add(-lockoutHistoryWindow))
	if err != nil {
		return 0, fmt.Errorf("count previous lockouts: %w", err)
	}
	exponent := previous / d.cfg.MaxFailedAttempts
	duration := time.Duration(float64(d.cfg.BaseLockDuration) * math.Pow(d.cfg.LockMultiplier, float64(exponent)))
	if duration > d.cfg.MaxLockDuration {
		duration = d.cfg.MaxLockDuration
	}
	return duration, nil
}

// stripe returns the mutex guarding the given key.
func (d *Detector) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &d.stripes[h.Sum32()%stripeCount]
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

// WithClock overrides the detector's time source. Tests only.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}
