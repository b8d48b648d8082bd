package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mugisham37/authcore/internal/audit"
	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/lockout"
	"github.com/mugisham37/authcore/internal/metrics"
	"github.com/mugisham37/authcore/internal/mfa"
	"github.com/mugisham37/authcore/internal/password"
	"github.com/mugisham37/authcore/internal/rbac"
	"github.com/mugisham37/authcore/internal/repository"
	"github.com/mugisham37/authcore/internal/session"
	"github.com/mugisham37/authcore/internal/token"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

// invalidCredentialsMsg is the single message returned for an unknown
// username and for a wrong password, so responses cannot be used to probe
// which accounts exist.
const invalidCredentialsMsg = "invalid username or password"

// dummyHash is a valid bcrypt hash compared against when the username is
// unknown, keeping the failure path's timing close to the real-password path.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

// UserEventPublisher forwards account lifecycle events to the event stream.
// Implemented by the Kafka producer in internal/event; nil disables publishing.
type UserEventPublisher interface {
	PublishUserRegistered(ctx context.Context, user *domain.User) error
}

// AuthService orchestrates registration, login, MFA, sessions, tokens, and
// password changes over the underlying engines.
type AuthService struct {
	users    repository.UserRepository
	hasher   *password.Hasher
	policy   password.Policy
	tokens   *token.Manager
	sessions *session.Manager
	detector *lockout.Detector
	mfa      *mfa.Engine
	rbac     *rbac.Registry
	audit    *audit.Logger
	events   UserEventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService wires the auth service from its collaborators.
func NewAuthService(
	users repository.UserRepository,
	hasher *password.Hasher,
	policy password.Policy,
	tokens *token.Manager,
	sessions *session.Manager,
	detector *lockout.Detector,
	mfaEngine *mfa.Engine,
	registry *rbac.Registry,
	auditLogger *audit.Logger,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:    users,
		hasher:   hasher,
		policy:   policy,
		tokens:   tokens,
		sessions: sessions,
		detector: detector,
		mfa:      mfaEngine,
		rbac:     registry,
		audit:    auditLogger,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterInput holds the fields for creating an account.
type RegisterInput struct {
	Username  string `json:"username" validate:"required,min=3,max=64"`
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Phone     string `json:"phone" validate:"omitempty,e164"`
}

// Register creates a new active account with the default user role. The
// password is strength-checked against the account's own identity fields
// before hashing.
func (s *AuthService) Register(ctx context.Context, in RegisterInput, id string) (*domain.User, error) {
	strength := s.policy.ValidateStrength(in.Password, password.UserInfo{
		Username:  in.Username,
		Email:     in.Email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	})
	if !strength.Valid {
		return nil, apperrors.InvalidInput(fmt.Sprintf("password rejected: %s", strength.Errors[0]))
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &domain.User{
		ID:       id,
		Username: in.Username,
		Email:    in.Email,
		Status:   domain.UserStatusActive,
		Profile: domain.UserProfile{
			FirstName: in.FirstName,
			LastName:  in.LastName,
			Phone:     in.Phone,
		},
		Security:  domain.UserSecurity{PasswordHash: hash},
		Roles:     []string{rbac.RoleUser},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	// Downstream consumers (welcome email, provisioning) listen for this;
	// a publish failure must not undo the registration.
	if s.events != nil {
		if err := s.events.PublishUserRegistered(ctx, user); err != nil {
			s.logger.WarnContext(ctx, "failed to publish user.registered event",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// LoginInput holds the credentials and device context for a login attempt.
type LoginInput struct {
	Username   string            `json:"username" validate:"required"`
	Password   string            `json:"password" validate:"required"`
	Device     domain.DeviceInfo `json:"device"`
	RememberMe bool              `json:"remember_me"`
}

// LoginResult is the outcome of a login. When MFARequired is set the caller
// must complete the returned challenge before any tokens are issued. On a
// failed attempt the result still carries the lockout and captcha fields, so
// callers can surface them alongside the error.
type LoginResult struct {
	User        *domain.User          `json:"user,omitempty"`
	Tokens      *domain.TokenPair     `json:"tokens,omitempty"`
	Session     *domain.Session       `json:"session,omitempty"`
	MFARequired bool                  `json:"mfa_required"`
	Challenge   *domain.MFAChallenge  `json:"challenge,omitempty"`
	Attempt     *domain.AttemptResult `json:"attempt,omitempty"`
}

// Login authenticates a password and either completes the session or hands
// back an MFA challenge. Unknown usernames and wrong passwords produce the
// same error; lockout state is checked before the password so a locked
// account cannot be probed.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	start := s.now()
	defer func() {
		metrics.LoginDuration.Observe(s.now().Sub(start).Seconds())
	}()

	user, err := s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
		// Unknown username. Burn a hash comparison and record the attempt
		// against the IP so distributed probing is still visible.
		s.hasher.Verify(in.Password, dummyHash)
		_, _ = s.detector.RecordLoginAttempt(ctx, &domain.LoginAttempt{
			Username:  in.Username,
			IPAddress: in.Device.IPAddress,
			UserAgent: in.Device.UserAgent,
		})
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		s.auditLoginFailure(ctx, "", in.Device, "unknown username")
		return nil, apperrors.Unauthorized(invalidCredentialsMsg)
	}

	if locked, lock, err := s.detector.IsAccountLocked(ctx, user.ID); err != nil {
		return nil, err
	} else if locked {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		return nil, apperrors.Locked("account is temporarily locked", lock.RetryAfter(s.now().UTC()))
	}

	if !user.IsActive() {
		metrics.LoginAttempts.WithLabelValues("inactive").Inc()
		s.auditLoginFailure(ctx, user.ID, in.Device, "account not active")
		return nil, apperrors.Forbidden("account is not active")
	}

	// Hash verification happens before the detector takes any lock.
	ok := s.hasher.Verify(in.Password, user.Security.PasswordHash)

	attempt, err := s.detector.RecordLoginAttempt(ctx, &domain.LoginAttempt{
		UserID:    user.ID,
		Username:  user.Username,
		IPAddress: in.Device.IPAddress,
		UserAgent: in.Device.UserAgent,
		Success:   ok,
	})
	if err != nil {
		return nil, err
	}

	if !ok {
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		s.auditLoginFailure(ctx, user.ID, in.Device, "wrong password")
		if attempt.Locked {
			metrics.AccountLockouts.WithLabelValues(string(attempt.LockoutReason)).Inc()
			s.audit.LogEvent(ctx, audit.Entry{
				Type:      domain.AuditAccountLocked,
				Severity:  domain.SeverityWarning,
				UserID:    user.ID,
				IPAddress: in.Device.IPAddress,
				Result:    "locked",
				Details:   map[string]any{"duration_seconds": attempt.LockoutDurationSec},
			})
			return &LoginResult{Attempt: attempt},
				apperrors.Locked("account is temporarily locked", attempt.LockoutDuration)
		}
		if attempt.SuspiciousActivity {
			s.audit.LogEvent(ctx, audit.Entry{
				Type:      domain.AuditSuspiciousActivity,
				Severity:  domain.SeverityCritical,
				UserID:    user.ID,
				IPAddress: in.Device.IPAddress,
				Result:    "flagged",
			})
		}
		return &LoginResult{Attempt: attempt}, apperrors.Unauthorized(invalidCredentialsMsg)
	}

	if user.Security.MFAEnabled && !user.IsTrustedDevice(in.Device.DeviceID) {
		method := domain.MFAMethodEmail
		if user.Security.TOTPSecret != "" {
			method = domain.MFAMethodTOTP
		}
		challenge, err := s.mfa.CreateChallenge(ctx, user, method)
		if err != nil {
			return nil, err
		}
		s.audit.LogEvent(ctx, audit.Entry{
			Type:      domain.AuditMFAChallengeSent,
			Severity:  domain.SeverityInfo,
			UserID:    user.ID,
			IPAddress: in.Device.IPAddress,
			Result:    "pending",
			Details:   map[string]any{"method": string(method)},
		})
		return &LoginResult{MFARequired: true, Challenge: challenge, Attempt: attempt}, nil
	}

	result, err := s.finishLogin(ctx, user, in.Device, domain.LoginMethodPassword, in.RememberMe)
	if err != nil {
		return nil, err
	}
	result.Attempt = attempt
	return result, nil
}

// CompleteMFAInput finishes a login that required a second factor.
type CompleteMFAInput struct {
	ChallengeID string            `json:"challenge_id" validate:"required"`
	Code        string            `json:"code" validate:"required"`
	BackupCode  bool              `json:"backup_code"`
	Device      domain.DeviceInfo `json:"device"`
	RememberMe  bool              `json:"remember_me"`
	TrustDevice bool              `json:"trust_device"`
}

// CompleteMFALogin verifies the challenge code (or a single-use backup code)
// and issues the session and tokens the password step withheld.
func (s *AuthService) CompleteMFALogin(ctx context.Context, in CompleteMFAInput) (*LoginResult, error) {
	ch, err := s.mfa.GetChallenge(ctx, in.ChallengeID)
	if err != nil {
		return nil, err
	}

	if in.BackupCode {
		ok, err := s.mfa.VerifyBackupCode(ctx, ch.UserID, in.Code)
		if err != nil {
			return nil, err
		}
		if !ok {
			metrics.MFAChallenges.WithLabelValues("backup", "failure").Inc()
			s.auditMFAFailure(ctx, ch.UserID, in.Device)
			return nil, apperrors.Unauthorized("invalid verification code")
		}
		metrics.MFAChallenges.WithLabelValues("backup", "success").Inc()
	} else {
		verified, err := s.mfa.VerifyChallenge(ctx, in.ChallengeID, in.Code)
		if err != nil {
			metrics.MFAChallenges.WithLabelValues(string(ch.Method), "failure").Inc()
			s.auditMFAFailure(ctx, ch.UserID, in.Device)
			return nil, err
		}
		ch = verified
		metrics.MFAChallenges.WithLabelValues(string(ch.Method), "success").Inc()
	}

	user, err := s.users.GetByID(ctx, ch.UserID)
	if err != nil {
		return nil, err
	}

	if in.TrustDevice && in.Device.DeviceID != "" && !user.IsTrustedDevice(in.Device.DeviceID) {
		user.Security.TrustedDevices = append(user.Security.TrustedDevices, in.Device.DeviceID)
		user.UpdatedAt = s.now().UTC()
		if err := s.users.Update(ctx, user); err != nil {
			return nil, fmt.Errorf("failed to trust device: %w", err)
		}
	}

	s.audit.LogEvent(ctx, audit.Entry{
		Type:      domain.AuditMFAVerified,
		Severity:  domain.SeverityInfo,
		UserID:    user.ID,
		IPAddress: in.Device.IPAddress,
		Result:    "success",
	})

	return s.finishLogin(ctx, user, in.Device, domain.LoginMethodMFA, in.RememberMe)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued carrying the user's current roles.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	claims, err := s.tokens.Validate(ctx, refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		s.audit.LogEvent(ctx, audit.Entry{
			Type:     domain.AuditTokenRejected,
			Severity: domain.SeverityWarning,
			Result:   "rejected",
		})
		return nil, token.Unauthorized(err)
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, token.Unauthorized(token.ErrInvalidToken)
	}
	if !user.IsActive() {
		return nil, apperrors.Forbidden("account is not active")
	}

	sessionID, _ := claims.Custom["session_id"].(string)
	pair, err := s.tokens.Refresh(ctx, refreshToken, s.customClaims(user, sessionID))
	if err != nil {
		return nil, token.Unauthorized(err)
	}

	metrics.TokensIssued.WithLabelValues(string(domain.TokenTypeRefresh)).Inc()
	s.audit.LogEvent(ctx, audit.Entry{
		Type:      domain.AuditTokenRefreshed,
		Severity:  domain.SeverityInfo,
		UserID:    user.ID,
		SessionID: sessionID,
		Result:    "success",
	})
	return pair, nil
}

// Logout revokes the session and the presented refresh token. Both halves
// are idempotent: logging out twice succeeds.
func (s *AuthService) Logout(ctx context.Context, sessionID, refreshToken string) error {
	var userID string
	if sess, err := s.sessions.Get(ctx, sessionID); err == nil {
		userID = sess.UserID
	}

	if err := s.sessions.Revoke(ctx, sessionID, session.ReasonLogout); err != nil {
		return err
	}
	if refreshToken != "" {
		if _, err := s.tokens.RevokeRefreshToken(ctx, refreshToken); err != nil {
			return err
		}
		metrics.TokensRevoked.Inc()
	}

	s.audit.LogEvent(ctx, audit.Entry{
		Type:      domain.AuditLogout,
		Severity:  domain.SeverityInfo,
		UserID:    userID,
		SessionID: sessionID,
		Result:    "success",
	})
	return nil
}

// LogoutAll revokes every session and refresh token for the user and returns
// the counts of each.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (sessions, tokens int, err error) {
	sessions, err = s.sessions.RevokeUserSessions(ctx, userID, session.ReasonLogout)
	if err != nil {
		return 0, 0, err
	}
	tokens, err = s.tokens.RevokeAllUserTokens(ctx, userID)
	if err != nil {
		return sessions, 0, err
	}

	s.audit.LogEvent(ctx, audit.Entry{
		Type:     domain.AuditLogout,
		Severity: domain.SeverityInfo,
		UserID:   userID,
		Result:   "success",
		Details:  map[string]any{"sessions_revoked": sessions, "tokens_revoked": tokens},
	})
	return sessions, tokens, nil
}

// ValidateAccess validates an access token and checks the requested
// resource/action against the RBAC registry. Denials are audited.
func (s *AuthService) ValidateAccess(ctx context.Context, accessToken, resource string, action domain.Action, evalCtx map[string]any) (*token.Claims, error) {
	claims, err := s.tokens.Validate(ctx, accessToken, domain.TokenTypeAccess)
	if err != nil {
		return nil, token.Unauthorized(err)
	}

	roles := rolesFromClaims(claims)
	if s.rbac.CheckPermission(roles, resource, action, evalCtx) {
		metrics.PermissionChecks.WithLabelValues("allow").Inc()
		return claims, nil
	}

	metrics.PermissionChecks.WithLabelValues("deny").Inc()
	s.audit.LogEvent(ctx, audit.Entry{
		Type:     domain.AuditPermissionDenied,
		Severity: domain.SeverityWarning,
		UserID:   claims.UserID,
		Resource: resource,
		Action:   string(action),
		Result:   "denied",
	})
	return nil, apperrors.Forbidden("permission denied")
}

// ChangePassword verifies the current password, applies the strength policy,
// and swaps the hash. Every session and refresh token is revoked so stolen
// credentials die with the change.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next string) error {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}

	if !s.hasher.Verify(current, user.Security.PasswordHash) {
		s.audit.LogEvent(ctx, audit.Entry{
			Type:     domain.AuditLoginFailure,
			Severity: domain.SeverityWarning,
			UserID:   userID,
			Result:   "failure",
			Details:  map[string]any{"operation": "change_password"},
		})
		return apperrors.Unauthorized("current password is incorrect")
	}

	strength := s.policy.ValidateStrength(next, password.UserInfo{
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.Profile.FirstName,
		LastName:  user.Profile.LastName,
	})
	if !strength.Valid {
		return apperrors.InvalidInput(fmt.Sprintf("password rejected: %s", strength.Errors[0]))
	}

	hash, err := s.hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user.Security.PasswordHash = hash
	user.UpdatedAt = s.now().UTC()
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if _, err := s.sessions.RevokeUserSessions(ctx, userID, session.ReasonCredentialsChanged); err != nil {
		return err
	}
	if _, err := s.tokens.RevokeAllUserTokens(ctx, userID); err != nil {
		return err
	}

	s.audit.LogEvent(ctx, audit.Entry{
		Type:     domain.AuditPasswordChanged,
		Severity: domain.SeverityInfo,
		UserID:   userID,
		Result:   "success",
	})
	return nil
}

// CheckPasswordStrength runs the strength policy without touching any state.
func (s *AuthService) CheckPasswordStrength(pw string, user password.UserInfo) password.StrengthResult {
	return s.policy.ValidateStrength(pw, user)
}

func (s *AuthService) finishLogin(ctx context.Context, user *domain.User, device domain.DeviceInfo, method domain.LoginMethod, rememberMe bool) (*LoginResult, error) {
	sess, err := s.sessions.Create(ctx, user.ID, device, method, rememberMe)
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.GenerateTokens(ctx, user.ID, s.customClaims(user, sess.ID))
	if err != nil {
		return nil, err
	}
	metrics.TokensIssued.WithLabelValues(string(domain.TokenTypeAccess)).Inc()
	metrics.LoginAttempts.WithLabelValues("success").Inc()

	now := s.now().UTC()
	user.LastLoginAt = &now
	user.UpdatedAt = now
	if err := s.users.Update(ctx, user); err != nil {
		s.logger.WarnContext(ctx, "failed to stamp last login",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.audit.LogEvent(ctx, audit.Entry{
		Type:      domain.AuditLoginSuccess,
		Severity:  domain.SeverityInfo,
		UserID:    user.ID,
		SessionID: sess.ID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Result:    "success",
		Details:   map[string]any{"login_method": string(method)},
	})

	return &LoginResult{User: user, Tokens: pair, Session: sess}, nil
}

func (s *AuthService) customClaims(user *domain.User, sessionID string) map[string]any {
	claims := map[string]any{"roles": user.Roles}
	if sessionID != "" {
		claims["session_id"] = sessionID
	}
	return claims
}

func (s *AuthService) auditLoginFailure(ctx context.Context, userID string, device domain.DeviceInfo, reason string) {
	s.audit.LogEvent(ctx, audit.Entry{
		Type:      domain.AuditLoginFailure,
		Severity:  domain.SeverityWarning,
		UserID:    userID,
		IPAddress: device.IPAddress,
		UserAgent: device.UserAgent,
		Result:    "failure",
		Details:   map[string]any{"reason": reason},
	})
}

func (s *AuthService) auditMFAFailure(ctx context.Context, userID string, device domain.DeviceInfo) {
	s.audit.LogEvent(ctx, audit.Entry{
		Type:      domain.AuditMFAFailed,
		Severity:  domain.SeverityWarning,
		UserID:    userID,
		IPAddress: device.IPAddress,
		Result:    "failure",
	})
}

// rolesFromClaims extracts the roles custom claim, tolerating the []any shape
// JSON decoding produces.
func rolesFromClaims(claims *token.Claims) []string {
	raw, ok := claims.Custom["roles"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		roles := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok {
				roles = append(roles, s)
			}
		}
		return roles
	}
	return nil
}

// WithEvents attaches a lifecycle event publisher. A nil service keeps
// publishing disabled.
func (s *AuthService) WithEvents(events UserEventPublisher) *AuthService {
	s.events = events
	return s
}

// WithClock overrides the service's time source. Tests only.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}
