package token

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository"
	apperrors "github.com/mugisham37/authcore/pkg/errors"
)

// ErrInvalidToken is the single error surfaced to callers for any token
// failure. The detailed reason (expired, revoked, malformed, wrong type) is
// logged internally so the cases are indistinguishable at the API boundary.
var ErrInvalidToken = errors.New("invalid token")

// reservedClaims are claim names callers cannot override through custom claims.
var reservedClaims = map[string]struct{}{
	"user_id": {}, "type": {}, "token_id": {},
	"sub": {}, "iss": {}, "aud": {}, "iat": {}, "exp": {},
}

// Claims is the typed view of a validated token's claim set. Custom holds
// any non-reserved claims that were embedded at issuance.
type Claims struct {
	UserID    string
	TokenType domain.TokenType
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Custom    map[string]any
}

// Config holds token manager settings.
type Config struct {
	Secret     string
	Issuer     string
	Audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Manager issues, validates, and revokes JWT token pairs. Access tokens are
// stateless and never individually revocable; refresh tokens reference a
// revocable server-side record keyed by a random 128-bit token id.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	tokens     repository.RefreshTokenRepository
	logger     *slog.Logger
	now        func() time.Time
}

// NewManager creates a token manager backed by the given refresh token registry.
func NewManager(cfg Config, tokens repository.RefreshTokenRepository, logger *slog.Logger) *Manager {
	return &Manager{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		tokens:     tokens,
		logger:     logger,
		now:        time.Now,
	}
}

// GenerateTokens issues an access/refresh pair for the user. Custom claims
// are embedded at the top level of both tokens; reserved claim names are
// silently skipped. The refresh token's id is registered server-side so it
// can be revoked before its embedded expiry.
func (m *Manager) GenerateTokens(ctx context.Context, userID string, custom map[string]any) (*domain.TokenPair, error) {
	now := m.now().UTC()

	accessToken, err := m.sign(userID, domain.TokenTypeAccess, "", custom, now, now.Add(m.accessTTL))
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	tokenID := uuid.New().String()
	refreshToken, err := m.sign(userID, domain.TokenTypeRefresh, tokenID, nil, now, now.Add(m.refreshTTL))
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	rec := &domain.RefreshTokenRecord{
		TokenID:   tokenID,
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.refreshTTL),
		IsActive:  true,
	}
	if err := m.tokens.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("store refresh token record: %w", err)
	}

	return &domain.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(m.accessTTL.Seconds()),
	}, nil
}

// Validate parses and validates a token of the expected type, returning its
// claims. Refresh tokens are additionally checked against the registry: a
// missing or inactive record rejects the token regardless of its expiry.
func (m *Manager) Validate(ctx context.Context, tokenString string, expected domain.TokenType) (*Claims, error) {
	claims, err := m.parse(tokenString)
	if err != nil {
		m.logger.DebugContext(ctx, "token rejected",
			slog.String("reason", err.Error()),
		)
		return nil, ErrInvalidToken
	}

	if claims.TokenType != expected {
		m.logger.DebugContext(ctx, "token rejected",
			slog.String("reason", "wrong token type"),
			slog.String("expected", string(expected)),
			slog.String("got", string(claims.TokenType)),
		)
		return nil, ErrInvalidToken
	}

	if expected == domain.TokenTypeRefresh {
		if claims.TokenID == "" {
			m.logger.DebugContext(ctx, "refresh token rejected",
				slog.String("reason", "missing token id"),
			)
			return nil, ErrInvalidToken
		}
		rec, err := m.tokens.GetByTokenID(ctx, claims.TokenID)
		if err != nil {
			m.logger.DebugContext(ctx, "refresh token rejected",
				slog.String("reason", "unknown token id"),
			)
			return nil, ErrInvalidToken
		}
		if !rec.IsActive {
			// A revoked refresh token coming back means the rotated value
			// may be in someone else's hands; burn every outstanding
			// refresh token for the user so the stolen chain dies with it.
			n, revokeErr := m.tokens.RevokeByUserID(ctx, rec.UserID)
			if revokeErr != nil {
				m.logger.ErrorContext(ctx, "failed to revoke token family after replay",
					slog.String("user_id", rec.UserID),
					slog.String("error", revokeErr.Error()),
				)
			}
			m.logger.WarnContext(ctx, "refresh token replay detected",
				slog.String("user_id", rec.UserID),
				slog.Int("tokens_revoked", n),
			)
			return nil, ErrInvalidToken
		}
	}

	return claims, nil
}

// Refresh validates the refresh token, revokes its registry record, and
// issues an entirely new pair. Rotation is revoke-on-use: a presented
// refresh token can never be replayed.
func (m *Manager) Refresh(ctx context.Context, refreshToken string, custom map[string]any) (*domain.TokenPair, error) {
	claims, err := m.Validate(ctx, refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		return nil, err
	}

	if err := m.tokens.Revoke(ctx, claims.TokenID); err != nil {
		return nil, fmt.Errorf("revoke used refresh token: %w", err)
	}

	return m.GenerateTokens(ctx, claims.UserID, custom)
}

// RevokeRefreshToken marks the presented refresh token's record inactive.
// Returns false when the string does not parse as a refresh token; revoking
// an already-revoked token succeeds (idempotent).
func (m *Manager) RevokeRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	claims, err := m.parse(refreshToken)
	if err != nil || claims.TokenType != domain.TokenTypeRefresh || claims.TokenID == "" {
		return false, nil
	}
	if err := m.tokens.Revoke(ctx, claims.TokenID); err != nil {
		return false, fmt.Errorf("revoke refresh token: %w", err)
	}
	return true, nil
}

// RevokeAllUserTokens deactivates every refresh token for the user and
// returns the number of records affected.
func (m *Manager) RevokeAllUserTokens(ctx context.Context, userID string) (int, error) {
	n, err := m.tokens.RevokeByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return n, nil
}

// sign builds the flat claim map and signs it with HMAC-SHA256.
func (m *Manager) sign(userID string, tt domain.TokenType, tokenID string, custom map[string]any, iat, exp time.Time) (string, error) {
	claims := jwt.MapClaims{
		"user_id": userID,
		"type":    string(tt),
		"sub":     userID,
		"iss":     m.issuer,
		"aud":     m.audience,
		"iat":     iat.Unix(),
		"exp":     exp.Unix(),
	}
	if tokenID != "" {
		claims["token_id"] = tokenID
	}
	for k, v := range custom {
		if _, reserved := reservedClaims[k]; reserved {
			continue
		}
		claims[k] = v
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// parse verifies signature, expiry, issuer, and audience, and extracts the
// typed claim view.
func (m *Manager) parse(tokenString string) (*Claims, error) {
	parsed, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	mapClaims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}

	claims := &Claims{Custom: make(map[string]any)}
	for k, v := range mapClaims {
		switch k {
		case "user_id":
			claims.UserID, _ = v.(string)
		case "type":
			if s, ok := v.(string); ok {
				claims.TokenType = domain.TokenType(s)
			}
		case "token_id":
			claims.TokenID, _ = v.(string)
		case "iat":
			if f, ok := v.(float64); ok {
				claims.IssuedAt = time.Unix(int64(f), 0).UTC()
			}
		case "exp":
			if f, ok := v.(float64); ok {
				claims.ExpiresAt = time.Unix(int64(f), 0).UTC()
			}
		case "sub", "iss", "aud":
			// Registered claims already verified by the parser.
		default:
			claims.Custom[k] = v
		}
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("missing user_id claim")
	}

	return claims, nil
}

// WithClock overrides the manager's time source. Tests only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Unauthorized translates ErrInvalidToken into the shared API error shape.
func Unauthorized(err error) error {
	if errors.Is(err, ErrInvalidToken) {
		return apperrors.Unauthorized("invalid or expired token")
	}
	return err
}
