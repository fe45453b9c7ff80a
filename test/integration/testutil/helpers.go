//go:build integration

package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
)

// IssuedCredential is the subset of the issuance response tests need.
type IssuedCredential struct {
	Role       string `json:"role"`
	Credential struct {
		Credential struct {
			ID    uuid.UUID `json:"id"`
			Email string    `json:"email"`
		} `json:"credential"`
		TemporaryPassword string `json:"temporary_password"`
	} `json:"credential"`
}

// AuthResult is the subset of the activation and login response tests need.
type AuthResult struct {
	AccessToken            string `json:"access_token"`
	RequiresPasswordChange bool   `json:"requires_password_change"`
	Assessment             struct {
		RiskLevel   string   `json:"risk_level"`
		RiskFactors []string `json:"risk_factors"`
		KnownDevice bool     `json:"known_device"`
	} `json:"assessment"`
	Session struct {
		ID            uuid.UUID `json:"id"`
		SessionToken  string    `json:"session_token"`
		SecurityFlags []string  `json:"security_flags"`
	} `json:"session"`
}

// ServiceToken generates a service-realm JWT for an operator with the given role.
func (env *TestEnv) ServiceToken(role domain.Role) string {
	env.t.Helper()
	token, err := env.JWTMgr.GenerateToken(auth.TokenParams{
		Realm:     auth.RealmService,
		SubjectID: uuid.New(),
		Email:     "operator@test.com",
		Role:      role,
	})
	if err != nil {
		env.t.Fatalf("ServiceToken: %v", err)
	}
	return token
}

// IssueCredential onboards email through the admin endpoint and returns the credential.
func (env *TestEnv) IssueCredential(email string, role domain.Role) IssuedCredential {
	env.t.Helper()
	body := map[string]string{"email": email}
	if role != "" {
		body["role"] = string(role)
	}

	resp := env.Do(http.MethodPost, "/admin/credentials", body, map[string]string{
		"Authorization":   "Bearer " + env.ServiceToken(domain.RoleSuperAdmin),
		"Idempotency-Key": uuid.NewString(),
	})
	if resp.StatusCode != http.StatusCreated {
		resp.Body.Close()
		env.t.Fatalf("IssueCredential: expected 201, got %d", resp.StatusCode)
	}

	var out IssuedCredential
	DecodeJSON(env.t, resp, &out)
	return out
}

// Activate exchanges a temporary password for a session and returns the result.
func (env *TestEnv) Activate(email, tempPassword, newPassword, device string) AuthResult {
	env.t.Helper()
	resp := env.POST("/auth/activate", map[string]string{
		"email":              email,
		"temporary_password": tempPassword,
		"new_password":       newPassword,
		"device_fingerprint": device,
	}, "")
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		env.t.Fatalf("Activate: expected 200, got %d", resp.StatusCode)
	}

	var out AuthResult
	DecodeJSON(env.t, resp, &out)
	return out
}

// GET performs an unauthenticated GET request.
func (env *TestEnv) GET(path string) *http.Response {
	env.t.Helper()
	resp, err := http.Get(env.Server.URL + path)
	if err != nil {
		env.t.Fatalf("GET %s: %v", path, err)
	}
	return resp
}

// POST performs a POST request with optional auth token.
func (env *TestEnv) POST(path string, body interface{}, token string) *http.Response {
	env.t.Helper()
	headers := map[string]string{}
	if token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return env.Do(http.MethodPost, path, body, headers)
}

// AuthGET performs an authenticated GET request.
func (env *TestEnv) AuthGET(path, token string) *http.Response {
	env.t.Helper()
	return env.Do(http.MethodGet, path, nil, map[string]string{"Authorization": "Bearer " + token})
}

// Do performs a request with a JSON body and custom headers.
func (env *TestEnv) Do(method, path string, body interface{}, headers map[string]string) *http.Response {
	env.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			env.t.Fatalf("%s %s: encode: %v", method, path, err)
		}
	}
	req, err := http.NewRequest(method, env.Server.URL+path, &buf)
	if err != nil {
		env.t.Fatalf("%s %s: new request: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		env.t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}
