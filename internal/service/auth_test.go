package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mugisham37/authcore/internal/audit"
	"github.com/mugisham37/authcore/internal/delivery"
	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/lockout"
	"github.com/mugisham37/authcore/internal/mfa"
	"github.com/mugisham37/authcore/internal/password"
	"github.com/mugisham37/authcore/internal/rbac"
	"github.com/mugisham37/authcore/internal/repository"
	"github.com/mugisham37/authcore/internal/repository/memory"
	"github.com/mugisham37/authcore/internal/session"
	"github.com/mugisham37/authcore/internal/token"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

const testPassword = "Correct-Horse9!"

type authFixture struct {
	svc    *AuthService
	users  *memory.UserRepository
	events *memory.AuditEventRepository
	mfa    *mfa.Engine
	now    *time.Time
}

// newAuthFixture wires the service over in-memory repositories, with every
// clock pinned to the same mutable instant.
func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	logger := slog.Default()

	users := memory.NewUserRepository()
	events := memory.NewAuditEventRepository()
	hasher := password.NewHasher(bcrypt.MinCost)

	tokens := token.NewManager(token.Config{
		Secret:     "test-secret-at-least-32-characters!",
		Issuer:     "authcore",
		Audience:   "authcore-api",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, memory.NewRefreshTokenRepository(), logger).WithClock(clock)

	sessions := session.NewManager(session.DefaultConfig(), memory.NewSessionRepository(),
		NewUserTrustChecker(users), logger).WithClock(clock)

	detector := lockout.NewDetector(lockout.DefaultConfig(),
		memory.NewLoginAttemptRepository(), memory.NewLockoutRepository(), logger).
		WithClock(clock)

	engine := mfa.NewEngine(mfa.DefaultConfig(), memory.NewChallengeRepository(), users,
		delivery.NewMockSender("sms", logger), delivery.NewMockSender("email", logger),
		hasher, logger).WithClock(clock)

	auditLogger := audit.NewLogger(events, nil, logger).WithClock(clock)

	svc := NewAuthService(users, hasher, password.DefaultPolicy(), tokens, sessions,
		detector, engine, rbac.NewRegistryWithDefaults(), auditLogger, logger).
		WithClock(clock)

	f := &authFixture{svc: svc, users: users, events: events, mfa: engine}
	f.now = &now
	return f
}

func (f *authFixture) register(t *testing.T) *domain.User {
	t.Helper()
	user, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: testPassword,
		Phone:    "+15551230100",
	}, "u-1")
	require.NoError(t, err)
	return user
}

func (f *authFixture) login(t *testing.T) *LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), LoginInput{
		Username: "alice",
		Password: testPassword,
		Device:   testDevice("d-1"),
	})
	require.NoError(t, err)
	return res
}

func testDevice(id string) domain.DeviceInfo {
	return domain.DeviceInfo{DeviceID: id, UserAgent: "test-agent", IPAddress: "10.0.0.1"}
}

func (f *authFixture) eventsOfType(t *testing.T, et domain.AuditEventType) []*domain.AuditEvent {
	t.Helper()
	events, err := f.events.Query(context.Background(), repository.AuditFilter{
		EventTypes: []domain.AuditEventType{et},
	})
	require.NoError(t, err)
	return events
}

func TestRegister(t *testing.T) {
	f := newAuthFixture(t)

	user := f.register(t)
	assert.Equal(t, domain.UserStatusActive, user.Status)
	assert.Equal(t, []string{rbac.RoleUser}, user.Roles)
	assert.NotEqual(t, testPassword, user.Security.PasswordHash)
	assert.NotEmpty(t, user.Security.PasswordHash)
}

// capturePublisher records published lifecycle events and optionally fails.
type capturePublisher struct {
	registered []*domain.User
	err        error
}

func (p *capturePublisher) PublishUserRegistered(_ context.Context, user *domain.User) error {
	if p.err != nil {
		return p.err
	}
	p.registered = append(p.registered, user)
	return nil
}

func TestRegister_PublishesLifecycleEvent(t *testing.T) {
	f := newAuthFixture(t)
	pub := &capturePublisher{}
	f.svc.WithEvents(pub)

	user := f.register(t)

	require.Len(t, pub.registered, 1)
	assert.Equal(t, user.ID, pub.registered[0].ID)
	assert.Equal(t, "alice", pub.registered[0].Username)
}

func TestRegister_PublishFailureDoesNotAbort(t *testing.T) {
	f := newAuthFixture(t)
	f.svc.WithEvents(&capturePublisher{err: errors.New("broker down")})

	user := f.register(t)
	assert.Equal(t, domain.UserStatusActive, user.Status)

	stored, err := f.users.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", stored.Username)
}

func TestRegister_WeakPassword(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "short",
	}, "u-1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRegister_PasswordContainingUsername(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Alice-Secret9!",
	}, "u-1")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRegister_DuplicateUsername(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: testPassword,
	}, "u-2")
	assert.ErrorIs(t, err, apperrors.ErrAlreadyExists)
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	res := f.login(t)
	require.NotNil(t, res.Tokens)
	require.NotNil(t, res.Session)
	assert.False(t, res.MFARequired)
	assert.Equal(t, "u-1", res.Session.UserID)

	// Last login is stamped and the success is audited.
	u, err := f.users.GetByID(context.Background(), "u-1")
	require.NoError(t, err)
	require.NotNil(t, u.LastLoginAt)
	assert.Len(t, f.eventsOfType(t, domain.AuditLoginSuccess), 1)
}

func TestLogin_UnknownUserAndWrongPasswordAreIndistinguishable(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	_, errUnknown := f.svc.Login(ctx, LoginInput{
		Username: "nobody", Password: testPassword, Device: testDevice("d-1"),
	})
	_, errWrong := f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: "Wrong-Password9!", Device: testDevice("d-1"),
	})

	require.Error(t, errUnknown)
	require.Error(t, errWrong)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
	assert.ErrorIs(t, errUnknown, apperrors.ErrUnauthorized)
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	var lastErr error
	for i := 0; i < 5; i++ {
		_, lastErr = f.svc.Login(ctx, LoginInput{
			Username: "alice", Password: "Wrong-Password9!", Device: testDevice("d-1"),
		})
	}
	assert.ErrorIs(t, lastErr, apperrors.ErrLocked)
	assert.Len(t, f.eventsOfType(t, domain.AuditAccountLocked), 1)

	// Locked accounts reject even the correct password, before verification.
	_, err := f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	assert.ErrorIs(t, err, apperrors.ErrLocked)

	// The lock expires on its own.
	*f.now = f.now.Add(16 * time.Minute)
	_, err = f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	assert.NoError(t, err)
}

func TestLogin_InactiveAccount(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	u, err := f.users.GetByID(ctx, "u-1")
	require.NoError(t, err)
	u.Status = domain.UserStatusSuspended
	require.NoError(t, f.users.Update(ctx, u))

	_, err = f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func enableTOTP(t *testing.T, f *authFixture) string {
	t.Helper()
	ctx := context.Background()
	setup, err := f.mfa.SetupTOTP(ctx, "u-1")
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, *f.now)
	require.NoError(t, err)
	require.NoError(t, f.mfa.ConfirmTOTP(ctx, "u-1", code))
	return setup.Secret
}

func TestLogin_MFARequired(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	secret := enableTOTP(t, f)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	require.NoError(t, err)
	assert.True(t, res.MFARequired)
	require.NotNil(t, res.Challenge)
	assert.Nil(t, res.Tokens, "no tokens before the second factor")
	assert.Nil(t, res.Session)

	code, err := totp.GenerateCode(secret, *f.now)
	require.NoError(t, err)
	done, err := f.svc.CompleteMFALogin(ctx, CompleteMFAInput{
		ChallengeID: res.Challenge.ID,
		Code:        code,
		Device:      testDevice("d-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, done.Tokens)
	require.NotNil(t, done.Session)
	assert.Equal(t, domain.LoginMethodMFA, done.Session.LoginMethod)
}

func TestCompleteMFALogin_TrustDeviceSkipsNextChallenge(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	secret := enableTOTP(t, f)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	require.NoError(t, err)
	require.True(t, res.MFARequired)

	code, err := totp.GenerateCode(secret, *f.now)
	require.NoError(t, err)
	_, err = f.svc.CompleteMFALogin(ctx, CompleteMFAInput{
		ChallengeID: res.Challenge.ID,
		Code:        code,
		Device:      testDevice("d-1"),
		TrustDevice: true,
	})
	require.NoError(t, err)

	// The trusted device logs in without a challenge; a new device does not.
	res, err = f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	require.NoError(t, err)
	assert.False(t, res.MFARequired)

	res, err = f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-2"),
	})
	require.NoError(t, err)
	assert.True(t, res.MFARequired)
}

func TestCompleteMFALogin_BackupCode(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	setup, err := f.mfa.SetupTOTP(ctx, "u-1")
	require.NoError(t, err)
	code, err := totp.GenerateCode(setup.Secret, *f.now)
	require.NoError(t, err)
	require.NoError(t, f.mfa.ConfirmTOTP(ctx, "u-1", code))

	res, err := f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	require.NoError(t, err)
	require.True(t, res.MFARequired)

	done, err := f.svc.CompleteMFALogin(ctx, CompleteMFAInput{
		ChallengeID: res.Challenge.ID,
		Code:        setup.BackupCodes[0],
		BackupCode:  true,
		Device:      testDevice("d-1"),
	})
	require.NoError(t, err)
	require.NotNil(t, done.Tokens)

	// A consumed backup code is dead.
	res, err = f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	require.NoError(t, err)
	_, err = f.svc.CompleteMFALogin(ctx, CompleteMFAInput{
		ChallengeID: res.Challenge.ID,
		Code:        setup.BackupCodes[0],
		BackupCode:  true,
		Device:      testDevice("d-1"),
	})
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestRefresh_RotatesAndRejectsReplay(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	res := f.login(t)
	pair, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, res.Tokens.RefreshToken, pair.RefreshToken)

	// The consumed token is dead; the replay is audited as a rejection.
	_, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	assert.NotEmpty(t, f.eventsOfType(t, domain.AuditTokenRejected))
}

func TestRefresh_InactiveUser(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	res := f.login(t)
	u, err := f.users.GetByID(ctx, "u-1")
	require.NoError(t, err)
	u.Status = domain.UserStatusSuspended
	require.NoError(t, f.users.Update(ctx, u))

	_, err = f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestLogout_Idempotent(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	res := f.login(t)
	require.NoError(t, f.svc.Logout(ctx, res.Session.ID, res.Tokens.RefreshToken))
	require.NoError(t, f.svc.Logout(ctx, res.Session.ID, res.Tokens.RefreshToken))

	// The revoked refresh token no longer rotates.
	_, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestLogoutAll(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	first := f.login(t)
	second := f.login(t)

	sessions, tokens, err := f.svc.LogoutAll(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, sessions)
	assert.Equal(t, 2, tokens)

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	assert.Error(t, err)
	_, err = f.svc.Refresh(ctx, second.Tokens.RefreshToken)
	assert.Error(t, err)
}

func TestValidateAccess(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	res := f.login(t)

	// The default user role may read its own content.
	claims, err := f.svc.ValidateAccess(ctx, res.Tokens.AccessToken, "content", domain.ActionRead,
		map[string]any{"owner_id": "u-1", "user_id": "u-1"})
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)

	// Deleting other users is out of scope for the user role, and audited.
	_, err = f.svc.ValidateAccess(ctx, res.Tokens.AccessToken, "users", domain.ActionDelete, nil)
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	assert.Len(t, f.eventsOfType(t, domain.AuditPermissionDenied), 1)
}

func TestValidateAccess_BadToken(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.ValidateAccess(context.Background(), "garbage", "content", domain.ActionRead, nil)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestChangePassword_RevokesEverything(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)
	ctx := context.Background()

	res := f.login(t)
	const next = "Brand-New-Secret7!"
	require.NoError(t, f.svc.ChangePassword(ctx, "u-1", testPassword, next))

	// Old sessions and tokens are dead.
	_, err := f.svc.Refresh(ctx, res.Tokens.RefreshToken)
	assert.Error(t, err)

	// Old password no longer works, the new one does.
	_, err = f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: testPassword, Device: testDevice("d-1"),
	})
	assert.Error(t, err)
	_, err = f.svc.Login(ctx, LoginInput{
		Username: "alice", Password: next, Device: testDevice("d-1"),
	})
	assert.NoError(t, err)
	assert.Len(t, f.eventsOfType(t, domain.AuditPasswordChanged), 1)
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	err := f.svc.ChangePassword(context.Background(), "u-1", "Wrong-Password9!", "Brand-New-Secret7!")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestChangePassword_WeakNext(t *testing.T) {
	f := newAuthFixture(t)
	f.register(t)

	err := f.svc.ChangePassword(context.Background(), "u-1", testPassword, "weak")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCheckPasswordStrength(t *testing.T) {
	f := newAuthFixture(t)

	res := f.svc.CheckPasswordStrength("Tr1cky-Enough-Phrase!", password.UserInfo{})
	assert.True(t, res.Valid)

	res = f.svc.CheckPasswordStrength("short", password.UserInfo{})
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Errors)
}

func TestUserTrustChecker(t *testing.T) {
	users := memory.NewUserRepository()
	checker := NewUserTrustChecker(users)
	ctx := context.Background()

	// Unknown users are simply untrusted, not an error.
	trusted, err := checker.IsTrustedDevice(ctx, "missing", "d-1")
	require.NoError(t, err)
	assert.False(t, trusted)

	require.NoError(t, users.Create(ctx, &domain.User{
		ID:       "u-1",
		Username: "alice",
		Email:    "alice@example.com",
		Security: domain.UserSecurity{TrustedDevices: []string{"d-1"}},
	}))

	trusted, err = checker.IsTrustedDevice(ctx, "u-1", "d-1")
	require.NoError(t, err)
	assert.True(t, trusted)

	trusted, err = checker.IsTrustedDevice(ctx, "u-1", "d-2")
	require.NoError(t, err)
	assert.False(t, trusted)
}
