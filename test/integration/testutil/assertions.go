//go:build integration

package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/attaboy/identity/internal/domain"
)

// DecodeJSON reads and decodes a JSON response body into dst.
func DecodeJSON(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
}

// AssertStatus checks that the response has the expected HTTP status code.
func AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// AssertErrorCode checks that the response body contains the expected error code.
func AssertErrorCode(t *testing.T, resp *http.Response, expectedCode string) {
	t.Helper()
	var errResp struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	DecodeJSON(t, resp, &errResp)
	if errResp.Code != expectedCode {
		t.Errorf("expected error code %q, got %q (message: %s)", expectedCode, errResp.Code, errResp.Message)
	}
}

// AssertCredentialUsed checks the is_used flag of a stored temporary credential.
func AssertCredentialUsed(t *testing.T, env *TestEnv, credentialID uuid.UUID, used bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var isUsed bool
	var usedAt *time.Time
	err := env.Pool.QueryRow(ctx,
		"SELECT is_used, used_at FROM temporary_credentials WHERE id = $1",
		credentialID).Scan(&isUsed, &usedAt)
	if err != nil {
		t.Fatalf("AssertCredentialUsed: query: %v", err)
	}
	if isUsed != used {
		t.Errorf("is_used: expected %v, got %v", used, isUsed)
	}
	if used && usedAt == nil {
		t.Errorf("used_at: expected a timestamp for a consumed credential")
	}
}

// CountLoginAttempts returns the number of recorded attempts for email.
func CountLoginAttempts(t *testing.T, env *TestEnv, email string, success bool) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := env.Pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM login_attempts WHERE email = $1 AND success = $2", email, success).Scan(&count)
	if err != nil {
		t.Fatalf("CountLoginAttempts: %v", err)
	}
	return count
}

// CountOutboxEvents returns the number of outbox events of one type for a subject.
func CountOutboxEvents(t *testing.T, env *TestEnv, subject string, eventType domain.EventType) int {
	t.Helper()
	env.FlushAudit()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var count int
	err := env.Pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM event_outbox WHERE "aggregateId" = $1 AND "eventType" = $2`,
		subject, string(eventType)).Scan(&count)
	if err != nil {
		t.Fatalf("CountOutboxEvents: %v", err)
	}
	return count
}
