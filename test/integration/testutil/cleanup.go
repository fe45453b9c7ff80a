//go:build integration

package testutil

import (
	"context"
	"time"
)

// CleanAll truncates all identity tables.
func (env *TestEnv) CleanAll() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := env.Pool.Exec(ctx, `
		TRUNCATE TABLE sessions, temporary_credentials, login_attempts, accounts, event_outbox
		RESTART IDENTITY CASCADE`)
	if err != nil {
		env.t.Fatalf("CleanAll: %v", err)
	}
}
