package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attaboy/identity/internal/audit"
	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
	"github.com/attaboy/identity/internal/infra"
	"github.com/attaboy/identity/internal/policy"
	"github.com/attaboy/identity/internal/repository"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testServer struct {
	srv      *httptest.Server
	jwt      *auth.JWTManager
	recorder *audit.Recorder
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewMemoryStore()
	recorder := &audit.Recorder{}
	hasher, err := auth.NewPasswordHasher(auth.AlgorithmBcrypt)
	require.NoError(t, err)
	hasher = hasher.WithBcryptCost(4)
	jwtMgr := auth.NewJWTManager(testSecret, time.Hour, time.Hour)
	metrics := infra.NewMetrics()
	noon := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	gw := NewGateway(Components{
		Directory:   store,
		Credentials: store,
		Tx:          store,
		Limiter:     guard.NewMemoryLimiter(guard.DefaultLimiterConfig()),
		Audit:       recorder,
		Rules:       policy.MustDefaultRuleSet(),
		Hasher:      hasher,
		JWT:         jwtMgr,
		Metrics:     metrics,
		Logger:      logger,
		Clock:       func() time.Time { return noon },
	})

	r := NewRouter(RouterDeps{
		Gateway: gw,
		JWTMgr:  jwtMgr,
		Logger:  logger,
		Metrics: metrics,
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{srv: srv, jwt: jwtMgr, recorder: recorder}
}

func (ts *testServer) serviceToken(t *testing.T, role domain.Role) string {
	t.Helper()
	token, err := ts.jwt.GenerateToken(auth.TokenParams{
		Realm:     auth.RealmService,
		SubjectID: uuid.New(),
		Email:     "hr@acme.com",
		Role:      role,
	})
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, ts.srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func TestRouter_OnboardActivateLogin(t *testing.T) {
	ts := newTestServer(t)
	bearer := map[string]string{
		"Authorization":   "Bearer " + ts.serviceToken(t, domain.RoleHRManager),
		"Idempotency-Key": "onboard-john",
	}

	resp, body := ts.do(t, http.MethodPost, "/admin/credentials", map[string]string{"email": "john.lead@acme.com"}, bearer)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "team_lead", body["role"])
	credential := body["credential"].(map[string]any)
	tempPassword := credential["temporary_password"].(string)
	require.NotEmpty(t, tempPassword)

	resp, body = ts.do(t, http.MethodPost, "/admin/credentials", map[string]string{"email": "john.lead@acme.com"}, bearer)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, domain.CodeConflict, body["code"])

	resp, body = ts.do(t, http.MethodPost, "/auth/activate", map[string]string{
		"email":              "john.lead@acme.com",
		"temporary_password": tempPassword,
		"new_password":       "N3w-Passw0rd!long",
		"device_fingerprint": "laptop-1",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, body["access_token"])
	session := body["session"].(map[string]any)
	sessionToken := session["session_token"].(string)

	resp, body = ts.do(t, http.MethodGet, "/auth/session", nil, map[string]string{"X-Session-Token": sessionToken})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, session["id"], body["id"])

	resp, body = ts.do(t, http.MethodPost, "/auth/login", map[string]string{
		"email":              "john.lead@acme.com",
		"password":           "N3w-Passw0rd!long",
		"device_fingerprint": "laptop-1",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assessment := body["assessment"].(map[string]any)
	assert.Equal(t, "low", assessment["risk_level"])
	assert.Equal(t, true, assessment["known_device"])

	resp, body = ts.do(t, http.MethodGet, "/admin/credentials?email=john.lead@acme.com", nil, bearer)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	history := body["credentials"].([]any)
	require.Len(t, history, 1)
	assert.Equal(t, true, history[0].(map[string]any)["is_used"])
	assert.NotContains(t, history[0], "password_hash")
}

func TestRouter_AdminAuthorization(t *testing.T) {
	ts := newTestServer(t)
	payload := map[string]string{"email": "jane.doe@acme.com"}

	resp, _ := ts.do(t, http.MethodPost, "/admin/credentials", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	employee := map[string]string{"Authorization": "Bearer " + ts.serviceToken(t, domain.RoleEmployee)}
	resp, _ = ts.do(t, http.MethodPost, "/admin/credentials", payload, employee)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	hr := map[string]string{"Authorization": "Bearer " + ts.serviceToken(t, domain.RoleHRManager)}
	resp, body := ts.do(t, http.MethodPost, "/admin/credentials", map[string]string{"email": "admin@company.com"}, hr)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, domain.CodeForbidden, body["code"])
}

func TestRouter_ActivateWrongPassword(t *testing.T) {
	ts := newTestServer(t)
	hr := map[string]string{"Authorization": "Bearer " + ts.serviceToken(t, domain.RoleAdmin)}
	resp, _ := ts.do(t, http.MethodPost, "/admin/credentials", map[string]string{"email": "jane.doe@acme.com", "role": "employee"}, hr)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/auth/activate", map[string]string{
		"email":              "jane.doe@acme.com",
		"temporary_password": "not-the-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.CodeInvalidCredential, body["code"])
	assert.Equal(t, 1, ts.recorder.Count(domain.EventCredentialValidationFailed))
}

func TestRouter_RolesAndOps(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, http.MethodPost, "/roles/infer", map[string]string{"email": "admin@company.com"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "super_admin", body["suggested_role"])
	assert.Equal(t, float64(100), body["confidence"])

	resp, body = ts.do(t, http.MethodPost, "/roles/infer", map[string]string{"email": "nobody"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeInvalidEmailFormat, body["code"])

	resp, body = ts.do(t, http.MethodGet, "/roles/rules", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, body["rules"])

	resp, _ = ts.do(t, http.MethodGet, "/auth/session", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, _ = ts.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
