package mfa

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mugisham37/authcore/internal/delivery"
	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/password"
	"github.com/mugisham37/authcore/internal/ratelimit"
	"github.com/mugisham37/authcore/internal/repository"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

// Config holds the challenge engine tunables.
type Config struct {
	Issuer          string
	SMSCodeTTL      time.Duration
	EmailCodeTTL    time.Duration
	TOTPTTL         time.Duration
	MaxAttempts     int
	SMSPerHour      int
	EmailPerHour    int
	BackupCodeCount int
}

// DefaultConfig returns the standard challenge engine settings: short-lived
// numeric SMS codes, longer email codes, and three attempts per challenge.
func DefaultConfig() Config {
	return Config{
		Issuer:          "authcore",
		SMSCodeTTL:      5 * time.Minute,
		EmailCodeTTL:    10 * time.Minute,
		TOTPTTL:         5 * time.Minute,
		MaxAttempts:     3,
		SMSPerHour:      5,
		EmailPerHour:    10,
		BackupCodeCount: 10,
	}
}

// Engine drives the multi-factor challenge lifecycle across TOTP, SMS, and
// email. Every method shares one state machine: a challenge is created
// pending and moves to exactly one of verified, failed, or expired.
type Engine struct {
	cfg          Config
	totpOpts     totpOptions
	challenges   repository.ChallengeRepository
	users        repository.UserRepository
	smsSender    delivery.Sender
	emailSender  delivery.Sender
	hasher       *password.Hasher
	smsLimiter   *ratelimit.SlidingWindow
	emailLimiter *ratelimit.SlidingWindow
	logger       *slog.Logger
	now          func() time.Time
}

// NewEngine creates a challenge engine. smsSender and emailSender may be mock
// senders in development.
func NewEngine(
	cfg Config,
	challenges repository.ChallengeRepository,
	users repository.UserRepository,
	smsSender delivery.Sender,
	emailSender delivery.Sender,
	hasher *password.Hasher,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		cfg:          cfg,
		totpOpts:     defaultTOTPOptions(cfg.Issuer),
		challenges:   challenges,
		users:        users,
		smsSender:    smsSender,
		emailSender:  emailSender,
		hasher:       hasher,
		smsLimiter:   ratelimit.NewSlidingWindow(cfg.SMSPerHour, time.Hour),
		emailLimiter: ratelimit.NewSlidingWindow(cfg.EmailPerHour, time.Hour),
		logger:       logger,
		now:          time.Now,
	}
}

// SetupTOTP enrolls a new authenticator for the user: a fresh secret, the
// provisioning URI, and a set of single-use backup codes. The secret and the
// hashed backup codes are persisted on the user; plaintext backup codes are
// returned exactly once.
func (e *Engine) SetupTOTP(ctx context.Context, userID string) (*domain.MFASetup, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	key, err := generateTOTPKey(e.totpOpts, user.Email)
	if err != nil {
		return nil, err
	}

	backupCodes, err := generateBackupCodes(e.cfg.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, 0, len(backupCodes))
	for _, code := range backupCodes {
		h, err := e.hasher.Hash(code)
		if err != nil {
			return nil, fmt.Errorf("failed to hash backup code: %w", err)
		}
		hashes = append(hashes, h)
	}

	user.Security.TOTPSecret = key.Secret()
	user.Security.BackupCodeHashes = hashes
	user.UpdatedAt = e.now().UTC()
	if err := e.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to persist totp enrollment: %w", err)
	}

	e.logger.InfoContext(ctx, "totp enrollment created",
		slog.String("user_id", user.ID),
	)

	return &domain.MFASetup{
		Secret:         key.Secret(),
		QRCode:         key.URL(),
		ManualEntryKey: manualEntryKey(key.Secret()),
		Issuer:         e.cfg.Issuer,
		Digits:         int(e.totpOpts.digits),
		Interval:       int(e.totpOpts.period),
		BackupCodes:    backupCodes,
		SetupInstructions: []string{
			"Scan the QR code with your authenticator app, or enter the manual key.",
			"Enter the 6-digit code from the app to confirm enrollment.",
			"Store the backup codes somewhere safe; each works exactly once.",
		},
	}, nil
}

// ConfirmTOTP validates an enrollment code and switches MFA on for the user.
func (e *Engine) ConfirmTOTP(ctx context.Context, userID, code string) error {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.Security.TOTPSecret == "" {
		return apperrors.InvalidInput("totp enrollment has not been started")
	}
	if !validateTOTPCode(e.totpOpts, code, user.Security.TOTPSecret, e.now()) {
		return apperrors.Unauthorized("invalid verification code")
	}
	user.Security.MFAEnabled = true
	user.UpdatedAt = e.now().UTC()
	if err := e.users.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to enable mfa: %w", err)
	}
	e.logger.InfoContext(ctx, "mfa enabled", slog.String("user_id", user.ID))
	return nil
}

// CreateChallenge starts a new challenge for the user with the given method.
// The challenge is persisted before delivery is attempted: a delivery failure
// leaves a valid pending challenge that Resend can retry.
func (e *Engine) CreateChallenge(ctx context.Context, user *domain.User, method domain.MFAMethod) (*domain.MFAChallenge, error) {
	ch := &domain.MFAChallenge{
		ID:          uuid.New().String(),
		UserID:      user.ID,
		Method:      method,
		Status:      domain.ChallengeStatusPending,
		MaxAttempts: e.cfg.MaxAttempts,
		CreatedAt:   e.now().UTC(),
	}

	switch method {
	case domain.MFAMethodTOTP:
		if user.Security.TOTPSecret == "" {
			return nil, apperrors.InvalidInput("totp is not enrolled for this account")
		}
		ch.ExpiresAt = ch.CreatedAt.Add(e.cfg.TOTPTTL)

	case domain.MFAMethodSMS:
		if user.Profile.Phone == "" {
			return nil, apperrors.InvalidInput("no phone number on file")
		}
		if !e.smsLimiter.Allow(user.ID) {
			return nil, apperrors.RateLimited("sms code limit reached", e.smsLimiter.RetryAfter(user.ID))
		}
		code, err := generateNumericCode(6)
		if err != nil {
			return nil, err
		}
		ch.Code = code
		ch.Destination = maskPhone(user.Profile.Phone)
		ch.ExpiresAt = ch.CreatedAt.Add(e.cfg.SMSCodeTTL)

	case domain.MFAMethodEmail:
		if !e.emailLimiter.Allow(user.ID) {
			return nil, apperrors.RateLimited("email code limit reached", e.emailLimiter.RetryAfter(user.ID))
		}
		code, err := generateAlphanumericCode(6)
		if err != nil {
			return nil, err
		}
		ch.Code = code
		ch.Destination = maskEmail(user.Email)
		ch.ExpiresAt = ch.CreatedAt.Add(e.cfg.EmailCodeTTL)

	default:
		return nil, apperrors.InvalidInput("unsupported mfa method")
	}

	if err := e.challenges.Create(ctx, ch); err != nil {
		return nil, fmt.Errorf("failed to store challenge: %w", err)
	}

	if err := e.deliver(ctx, user, ch); err != nil {
		e.logger.ErrorContext(ctx, "challenge delivery failed",
			slog.String("challenge_id", ch.ID),
			slog.String("method", string(ch.Method)),
			slog.String("error", err.Error()),
		)
		return ch, apperrors.Unavailable("verification code delivery failed")
	}

	e.logger.InfoContext(ctx, "mfa challenge created",
		slog.String("challenge_id", ch.ID),
		slog.String("user_id", user.ID),
		slog.String("method", string(ch.Method)),
	)
	return ch, nil
}

// ResendChallenge redelivers the existing code for a pending SMS or email
// challenge. The attempt counter is untouched: resending is a delivery
// concern, not a verification attempt.
func (e *Engine) ResendChallenge(ctx context.Context, challengeID string) error {
	ch, err := e.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return err
	}
	if ch.Method == domain.MFAMethodTOTP {
		return apperrors.InvalidInput("totp challenges have nothing to resend")
	}
	if ch.Status != domain.ChallengeStatusPending || ch.IsExpired(e.now()) {
		return apperrors.InvalidInput("challenge is no longer active")
	}

	user, err := e.users.GetByID(ctx, ch.UserID)
	if err != nil {
		return err
	}

	limiter := e.emailLimiter
	if ch.Method == domain.MFAMethodSMS {
		limiter = e.smsLimiter
	}
	if !limiter.Allow(user.ID) {
		return apperrors.RateLimited("verification code limit reached", limiter.RetryAfter(user.ID))
	}

	if err := e.deliver(ctx, user, ch); err != nil {
		e.logger.ErrorContext(ctx, "challenge redelivery failed",
			slog.String("challenge_id", ch.ID),
			slog.String("error", err.Error()),
		)
		return apperrors.Unavailable("verification code delivery failed")
	}
	return nil
}

// GetChallenge returns the challenge by id.
func (e *Engine) GetChallenge(ctx context.Context, challengeID string) (*domain.MFAChallenge, error) {
	return e.challenges.GetByID(ctx, challengeID)
}

// VerifyChallenge checks a submitted code against the challenge. The attempt
// counter is incremented before the comparison, so two racing submissions of
// the last allowed attempt cannot both be compared.
func (e *Engine) VerifyChallenge(ctx context.Context, challengeID, code string) (*domain.MFAChallenge, error) {
	ch, err := e.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if ch.Status != domain.ChallengeStatusPending {
		return nil, apperrors.InvalidInput("challenge is no longer active")
	}
	if ch.IsExpired(now) {
		ch.Status = domain.ChallengeStatusExpired
		if err := e.challenges.Update(ctx, ch); err != nil {
			return nil, fmt.Errorf("failed to expire challenge: %w", err)
		}
		return nil, apperrors.InvalidInput("challenge has expired")
	}

	attempts, err := e.challenges.IncrementAttempts(ctx, ch.ID)
	if err != nil {
		return nil, err
	}
	ch.Attempts = attempts
	if attempts > ch.MaxAttempts {
		return nil, e.failChallenge(ctx, ch)
	}

	if e.codeMatches(ctx, ch, code, now) {
		ch.Status = domain.ChallengeStatusVerified
		if err := e.challenges.Update(ctx, ch); err != nil {
			return nil, fmt.Errorf("failed to complete challenge: %w", err)
		}
		e.logger.InfoContext(ctx, "mfa challenge verified",
			slog.String("challenge_id", ch.ID),
			slog.String("user_id", ch.UserID),
			slog.String("method", string(ch.Method)),
		)
		return ch, nil
	}

	if attempts >= ch.MaxAttempts {
		return nil, e.failChallenge(ctx, ch)
	}
	return nil, apperrors.Unauthorized("invalid verification code")
}

// VerifyBackupCode consumes a single-use recovery code. A matched hash is
// removed from the user's list before the call returns true.
func (e *Engine) VerifyBackupCode(ctx context.Context, userID, code string) (bool, error) {
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	for i, hash := range user.Security.BackupCodeHashes {
		if e.hasher.Verify(code, hash) {
			user.Security.BackupCodeHashes = append(
				user.Security.BackupCodeHashes[:i],
				user.Security.BackupCodeHashes[i+1:]...,
			)
			user.UpdatedAt = e.now().UTC()
			if err := e.users.Update(ctx, user); err != nil {
				return false, fmt.Errorf("failed to consume backup code: %w", err)
			}
			e.logger.InfoContext(ctx, "backup code consumed",
				slog.String("user_id", user.ID),
				slog.Int("remaining", len(user.Security.BackupCodeHashes)),
			)
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) failChallenge(ctx context.Context, ch *domain.MFAChallenge) error {
	ch.Status = domain.ChallengeStatusFailed
	if err := e.challenges.Update(ctx, ch); err != nil {
		return fmt.Errorf("failed to mark challenge failed: %w", err)
	}
	e.logger.WarnContext(ctx, "mfa challenge failed",
		slog.String("challenge_id", ch.ID),
		slog.String("user_id", ch.UserID),
		slog.Int("attempts", ch.Attempts),
	)
	return apperrors.Unauthorized("too many failed verification attempts")
}

func (e *Engine) codeMatches(ctx context.Context, ch *domain.MFAChallenge, code string, now time.Time) bool {
	switch ch.Method {
	case domain.MFAMethodTOTP:
		user, err := e.users.GetByID(ctx, ch.UserID)
		if err != nil || user.Security.TOTPSecret == "" {
			return false
		}
		return validateTOTPCode(e.totpOpts, code, user.Security.TOTPSecret, now)
	default:
		return subtle.ConstantTimeCompare([]byte(ch.Code), []byte(code)) == 1
	}
}

func (e *Engine) deliver(ctx context.Context, user *domain.User, ch *domain.MFAChallenge) error {
	msg := &delivery.Message{Body: "Your verification code is " + ch.Code}
	var sender delivery.Sender
	switch ch.Method {
	case domain.MFAMethodSMS:
		sender = e.smsSender
		msg.Recipient = user.Profile.Phone
	case domain.MFAMethodEmail:
		sender = e.emailSender
		msg.Recipient = user.Email
		msg.Subject = "Your verification code"
	default:
		return nil
	}
	return sender.Send(ctx, msg)
}

// CleanupExpired removes challenges past their expiry. Verification never
// depends on this; expiry is checked lazily on every access.
func (e *Engine) CleanupExpired(ctx context.Context) (int, error) {
	return e.challenges.DeleteExpired(ctx, e.now())
}

// WithClock overrides the engine's time source. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	e.smsLimiter.WithClock(now)
	e.emailLimiter.WithClock(now)
	return e
}

func maskEmail(email string) string {
	at := -1
	for i, r := range email {
		if r == '@' {
			at = i
			break
		}
	}
	if at <= 1 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func maskPhone(phone string) string {
	if len(phone) < 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
