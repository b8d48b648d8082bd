package token

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mugisham37/authcore/internal/domain"
	"github.com/mugisham37/authcore/internal/repository/memory"
)

func newTestManager(t *testing.T) (*Manager, *memory.RefreshTokenRepository) {
	t.Helper()
	repo := memory.NewRefreshTokenRepository()
	m := NewManager(Config{
		Secret:     "test-secret-at-least-32-characters!",
		Issuer:     "authcore",
		Audience:   "authcore-api",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, repo, slog.Default())
	return m, repo
}

func TestGenerateTokens_PairShape(t *testing.T) {
	m, _ := newTestManager(t)

	pair, err := m.GenerateTokens(context.Background(), "u-1", nil)
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), pair.ExpiresIn)
}

func TestValidate_AccessToken(t *testing.T) {
	m, _ := newTestManager(t)

	pair, err := m.GenerateTokens(context.Background(), "u-1", map[string]any{
		"roles":      []string{"user"},
		"session_id": "s-9",
	})
	require.NoError(t, err)

	claims, err := m.Validate(context.Background(), pair.AccessToken, domain.TokenTypeAccess)
	require.NoError(t, err)

	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, domain.TokenTypeAccess, claims.TokenType)
	assert.Equal(t, "s-9", claims.Custom["session_id"])
}

func TestValidate_WrongType(t *testing.T) {
	m, _ := newTestManager(t)

	pair, err := m.GenerateTokens(context.Background(), "u-1", nil)
	require.NoError(t, err)

	// An access token presented as a refresh token is rejected, and vice versa.
	_, err = m.Validate(context.Background(), pair.AccessToken, domain.TokenTypeRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate(context.Background(), pair.RefreshToken, domain.TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_Garbage(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Validate(context.Background(), "not.a.jwt", domain.TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_WrongSecret(t *testing.T) {
	m, _ := newTestManager(t)
	other := NewManager(Config{
		Secret:     "a-completely-different-signing-key!!",
		Issuer:     "authcore",
		Audience:   "authcore-api",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, memory.NewRefreshTokenRepository(), slog.Default())

	pair, err := other.GenerateTokens(context.Background(), "u-1", nil)
	require.NoError(t, err)

	_, err = m.Validate(context.Background(), pair.AccessToken, domain.TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_Expired(t *testing.T) {
	m, _ := newTestManager(t)

	issued := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := issued
	m.WithClock(func() time.Time { return now })

	pair, err := m.GenerateTokens(context.Background(), "u-1", nil)
	require.NoError(t, err)

	now = issued.Add(16 * time.Minute)
	_, err = m.Validate(context.Background(), pair.AccessToken, domain.TokenTypeAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_RevokedRefreshToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pair, err := m.GenerateTokens(ctx, "u-1", nil)
	require.NoError(t, err)

	// Valid before revocation.
	_, err = m.Validate(ctx, pair.RefreshToken, domain.TokenTypeRefresh)
	require.NoError(t, err)

	ok, err := m.RevokeRefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)

	// The token still carries a valid signature and future expiry, but the
	// registry record is inactive.
	_, err = m.Validate(ctx, pair.RefreshToken, domain.TokenTypeRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRefresh_RotatesAndRevokesOld(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pair, err := m.GenerateTokens(ctx, "u-1", nil)
	require.NoError(t, err)

	fresh, err := m.Refresh(ctx, pair.RefreshToken, nil)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, fresh.RefreshToken)

	// The rotated token is valid until the old one resurfaces.
	_, err = m.Validate(ctx, fresh.RefreshToken, domain.TokenTypeRefresh)
	assert.NoError(t, err)
}

func TestRefresh_ReplayRevokesTokenFamily(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pair, err := m.GenerateTokens(ctx, "u-1", nil)
	require.NoError(t, err)
	fresh, err := m.Refresh(ctx, pair.RefreshToken, nil)
	require.NoError(t, err)

	// Another user's tokens must survive the fallout.
	other, err := m.GenerateTokens(ctx, "u-2", nil)
	require.NoError(t, err)

	// Replaying the consumed refresh token fails and burns every
	// outstanding refresh token for the user, the rotated one included.
	_, err = m.Refresh(ctx, pair.RefreshToken, nil)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate(ctx, fresh.RefreshToken, domain.TokenTypeRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate(ctx, other.RefreshToken, domain.TokenTypeRefresh)
	assert.NoError(t, err)
}

func TestRevokeRefreshToken_Idempotent(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pair, err := m.GenerateTokens(ctx, "u-1", nil)
	require.NoError(t, err)

	ok, err := m.RevokeRefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)

	// Second revocation of the same token is a no-op, not an error.
	ok, err = m.RevokeRefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRevokeRefreshToken_NotARefreshToken(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pair, err := m.GenerateTokens(ctx, "u-1", nil)
	require.NoError(t, err)

	ok, err := m.RevokeRefreshToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.RevokeRefreshToken(ctx, "garbage")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRevokeAllUserTokens(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	first, err := m.GenerateTokens(ctx, "u-1", nil)
	require.NoError(t, err)
	second, err := m.GenerateTokens(ctx, "u-1", nil)
	require.NoError(t, err)
	other, err := m.GenerateTokens(ctx, "u-2", nil)
	require.NoError(t, err)

	n, err := m.RevokeAllUserTokens(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = m.Validate(ctx, first.RefreshToken, domain.TokenTypeRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.Validate(ctx, second.RefreshToken, domain.TokenTypeRefresh)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The other user's token is untouched.
	_, err = m.Validate(ctx, other.RefreshToken, domain.TokenTypeRefresh)
	assert.NoError(t, err)
}

func TestGenerateTokens_ReservedClaimsSkipped(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	pair, err := m.GenerateTokens(ctx, "u-1", map[string]any{
		"user_id": "attacker",
		"type":    "refresh",
		"plan":    "pro",
	})
	require.NoError(t, err)

	claims, err := m.Validate(ctx, pair.AccessToken, domain.TokenTypeAccess)
	require.NoError(t, err)

	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, domain.TokenTypeAccess, claims.TokenType)
	assert.Equal(t, "pro", claims.Custom["plan"])
}
