package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mugisham37/authcore/internal/audit"
	"github.com/mugisham37/authcore/internal/delivery"
	"github.com/mugisham37/authcore/internal/lockout"
	"github.com/mugisham37/authcore/internal/mfa"
	"github.com/mugisham37/authcore/internal/password"
	"github.com/mugisham37/authcore/internal/rbac"
	"github.com/mugisham37/authcore/internal/repository/memory"
	"github.com/mugisham37/authcore/internal/service"
	"github.com/mugisham37/authcore/internal/session"
	"github.com/mugisham37/authcore/internal/token"
	"github.com/mugisham37/authcore/pkg/health"
)

const testPassword = "Correct-Horse9!"

type serverFixture struct {
	server *httptest.Server
	users  *memory.UserRepository
	mfa    *mfa.Engine
}

func newServer(t *testing.T) *serverFixture {
	t.Helper()
	logger := slog.Default()

	users := memory.NewUserRepository()
	hasher := password.NewHasher(bcrypt.MinCost)

	tokens := token.NewManager(token.Config{
		Secret:     "test-secret-at-least-32-characters!",
		Issuer:     "authcore",
		Audience:   "authcore-api",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
	}, memory.NewRefreshTokenRepository(), logger)

	sessions := session.NewManager(session.DefaultConfig(), memory.NewSessionRepository(),
		service.NewUserTrustChecker(users), logger)

	detector := lockout.NewDetector(lockout.DefaultConfig(),
		memory.NewLoginAttemptRepository(), memory.NewLockoutRepository(), logger)

	engine := mfa.NewEngine(mfa.DefaultConfig(), memory.NewChallengeRepository(), users,
		delivery.NewMockSender("sms", logger), delivery.NewMockSender("email", logger),
		hasher, logger)

	auditLogger := audit.NewLogger(memory.NewAuditEventRepository(), nil, logger)

	svc := service.NewAuthService(users, hasher, password.DefaultPolicy(), tokens, sessions,
		detector, engine, rbac.NewRegistryWithDefaults(), auditLogger, logger)

	router := NewRouter(svc, engine, sessions, tokens, auditLogger, users,
		health.NewHandler(), logger, CORSConfig{Environment: "development"})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &serverFixture{server: srv, users: users, mfa: engine}
}

func (f *serverFixture) post(t *testing.T, path, bearer string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, f.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (f *serverFixture) do(t *testing.T, method, path, bearer string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.server.URL+path, nil)
	require.NoError(t, err)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func (f *serverFixture) registerUser(t *testing.T, username string) {
	t.Helper()
	resp := f.post(t, "/api/v1/auth/register", "", RegisterRequest{
		Username: username,
		Email:    username + "@example.com",
		Password: testPassword,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

// loginTokens logs in and returns (accessToken, refreshToken, sessionID).
func (f *serverFixture) loginTokens(t *testing.T, username string) (string, string, string) {
	t.Helper()
	resp := f.post(t, "/api/v1/auth/login", "", LoginRequest{
		Username: username, Password: testPassword, DeviceID: "d-1",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	tokens := data["tokens"].(map[string]any)
	sess := data["session"].(map[string]any)
	return tokens["access_token"].(string), tokens["refresh_token"].(string), sess["id"].(string)
}

func TestRegisterEndpoint(t *testing.T) {
	f := newServer(t)

	resp := f.post(t, "/api/v1/auth/register", "", RegisterRequest{
		Username: "alice", Email: "alice@example.com", Password: testPassword,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, "alice", data["username"])
	// The hash never leaves the server.
	assert.NotContains(t, data, "password_hash")
}

func TestRegisterEndpoint_ValidationError(t *testing.T) {
	f := newServer(t)

	resp := f.post(t, "/api/v1/auth/register", "", RegisterRequest{
		Username: "al", Email: "not-an-email", Password: testPassword,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decodeBody(t, resp)
	errBody := body["error"].(map[string]any)
	assert.Equal(t, "VALIDATION_ERROR", errBody["code"])
	fields := errBody["fields"].(map[string]any)
	assert.Contains(t, fields, "username")
	assert.Contains(t, fields, "email")
}

func TestRegisterEndpoint_DuplicateConflict(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")

	resp := f.post(t, "/api/v1/auth/register", "", RegisterRequest{
		Username: "alice", Email: "other@example.com", Password: testPassword,
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestContentTypeEnforced(t *testing.T) {
	f := newServer(t)

	req, err := http.NewRequest(http.MethodPost, f.server.URL+"/api/v1/auth/login",
		bytes.NewReader([]byte(`{"username":"alice","password":"x"}`)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")

	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestLoginEndpoint(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")

	access, refresh, sessionID := f.loginTokens(t, "alice")
	assert.NotEmpty(t, access)
	assert.NotEmpty(t, refresh)
	assert.NotEmpty(t, sessionID)
}

func TestLoginEndpoint_WrongPasswordCarriesAttempt(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")

	resp := f.post(t, "/api/v1/auth/login", "", LoginRequest{
		Username: "alice", Password: "Wrong-Password9!",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	body := decodeBody(t, resp)
	attempt := body["attempt"].(map[string]any)
	assert.Equal(t, float64(4), attempt["attempts_remaining"])
}

func TestLoginEndpoint_LockoutSetsRetryAfter(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")

	var resp *http.Response
	for i := 0; i < 5; i++ {
		resp = f.post(t, "/api/v1/auth/login", "", LoginRequest{
			Username: "alice", Password: "Wrong-Password9!",
		})
	}
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("Retry-After"))
}

func TestRefreshEndpoint_RotationAndReplay(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")
	_, refresh, _ := f.loginTokens(t, "alice")

	resp := f.post(t, "/api/v1/auth/refresh", "", RefreshTokenRequest{RefreshToken: refresh})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	rotated := body["data"].(map[string]any)["refresh_token"].(string)
	assert.NotEqual(t, refresh, rotated)

	// Replaying the consumed token is rejected.
	resp = f.post(t, "/api/v1/auth/refresh", "", RefreshTokenRequest{RefreshToken: refresh})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestLogoutEndpoint_Idempotent(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")
	_, refresh, sessionID := f.loginTokens(t, "alice")

	resp := f.post(t, "/api/v1/auth/logout", "", LogoutRequest{SessionID: sessionID, RefreshToken: refresh})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = f.post(t, "/api/v1/auth/logout", "", LogoutRequest{SessionID: sessionID, RefreshToken: refresh})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLogoutAllEndpoint_RequiresAuth(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")

	resp := f.post(t, "/api/v1/auth/logout-all", "", struct{}{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	access, _, _ := f.loginTokens(t, "alice")
	f.loginTokens(t, "alice")

	resp = f.post(t, "/api/v1/auth/logout-all", access, struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, float64(2), data["sessions_revoked"])
}

func TestChangePasswordEndpoint(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")
	access, _, _ := f.loginTokens(t, "alice")

	resp := f.post(t, "/api/v1/auth/password/change", access, ChangePasswordRequest{
		CurrentPassword: testPassword,
		NewPassword:     "Brand-New-Secret7!",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The old password is dead.
	resp = f.post(t, "/api/v1/auth/login", "", LoginRequest{
		Username: "alice", Password: testPassword,
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestPasswordStrengthEndpoint(t *testing.T) {
	f := newServer(t)

	resp := f.post(t, "/api/v1/auth/password/strength", "", PasswordStrengthRequest{
		Password: "short",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, false, data["valid"])
}

func TestMFAEndpoints_FullFlow(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")
	access, _, _ := f.loginTokens(t, "alice")

	// Enroll.
	resp := f.post(t, "/api/v1/mfa/totp/setup", access, struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	secret := body["data"].(map[string]any)["secret"].(string)

	code, err := totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp = f.post(t, "/api/v1/mfa/totp/confirm", access, ConfirmTOTPRequest{Code: code})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// The next login on an unknown device returns 202 with a challenge.
	resp = f.post(t, "/api/v1/auth/login", "", LoginRequest{
		Username: "alice", Password: testPassword, DeviceID: "d-2",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body = decodeBody(t, resp)
	data := body["data"].(map[string]any)
	assert.Equal(t, true, data["mfa_required"])
	challengeID := data["challenge"].(map[string]any)["id"].(string)

	// Complete it.
	code, err = totp.GenerateCode(secret, time.Now())
	require.NoError(t, err)
	resp = f.post(t, "/api/v1/auth/mfa/verify", "", VerifyMFARequest{
		ChallengeID: challengeID, Code: code, DeviceID: "d-2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.NotNil(t, body["data"].(map[string]any)["tokens"])
}

func TestMFAChallengeEndpoint_RequiresAuth(t *testing.T) {
	f := newServer(t)

	resp := f.post(t, "/api/v1/mfa/challenge", "", CreateChallengeRequest{Method: "email"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionEndpoints(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")
	f.registerUser(t, "bob")
	access, _, sessionID := f.loginTokens(t, "alice")
	_, _, bobSession := f.loginTokens(t, "bob")

	resp := f.do(t, http.MethodGet, "/api/v1/sessions/", access)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Len(t, body["data"].([]any), 1)

	// Another user's session cannot be revoked.
	resp = f.do(t, http.MethodDelete, "/api/v1/sessions/"+bobSession, access)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Own session can.
	resp = f.do(t, http.MethodDelete, "/api/v1/sessions/"+sessionID, access)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthzCheckEndpoint(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")
	access, _, _ := f.loginTokens(t, "alice")

	resp := f.post(t, "/api/v1/authz/check", access, CheckRequest{
		Resource: "content", Action: "read",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["data"].(map[string]any)["allowed"])

	resp = f.post(t, "/api/v1/authz/check", access, CheckRequest{
		Resource: "users", Action: "delete",
	})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.post(t, "/api/v1/authz/check", "", CheckRequest{
		Resource: "content", Action: "read",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuditEndpoints_AdminOnly(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")
	access, _, _ := f.loginTokens(t, "alice")

	// The default user role is rejected.
	resp := f.do(t, http.MethodGet, "/api/v1/audit/events", access)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Promote and log in again so the new role lands in the token.
	ctx := context.Background()
	u, err := f.users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	u.Roles = append(u.Roles, rbac.RoleAdmin)
	require.NoError(t, f.users.Update(ctx, u))
	adminAccess, _, _ := f.loginTokens(t, "alice")

	resp = f.do(t, http.MethodGet, "/api/v1/audit/events?type=login_success", adminAccess)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	page := body["data"].(map[string]any)
	assert.NotEmpty(t, page["data"].([]any))
	assert.Equal(t, float64(1), page["page"])
	assert.False(t, page["has_next"].(bool))

	resp = f.do(t, http.MethodGet, "/api/v1/audit/report", adminAccess)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/v1/audit/anomalies", adminAccess)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuditEndpoints_InvalidPeriod(t *testing.T) {
	f := newServer(t)
	f.registerUser(t, "alice")

	ctx := context.Background()
	u, err := f.users.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	u.Roles = append(u.Roles, rbac.RoleAdmin)
	require.NoError(t, f.users.Update(ctx, u))
	access, _, _ := f.loginTokens(t, "alice")

	resp := f.do(t, http.MethodGet, "/api/v1/audit/report?from=not-a-time", access)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	future := time.Now().UTC().Add(48 * time.Hour).Format(time.RFC3339)
	resp = f.do(t, http.MethodGet, fmt.Sprintf("/api/v1/audit/report?from=%s", future), access)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndCORS(t *testing.T) {
	f := newServer(t)

	resp := f.do(t, http.MethodGet, "/health/live", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Token-bearing endpoints must not be cacheable.
	resp = f.post(t, "/api/v1/auth/password/strength", "", map[string]any{"password": "x"})
	assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

	// Development mode answers preflight for any origin.
	req, err := http.NewRequest(http.MethodOptions, f.server.URL+"/api/v1/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	preflight, err := f.server.Client().Do(req)
	require.NoError(t, err)
	defer preflight.Body.Close()
	assert.Equal(t, http.StatusNoContent, preflight.StatusCode)
	assert.Equal(t, "*", preflight.Header.Get("Access-Control-Allow-Origin"))
}
