package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attaboy/identity/internal/auth"
	"github.com/attaboy/identity/internal/domain"
	"github.com/attaboy/identity/internal/guard"
)

const newPassword = "N3w-Passw0rd!long"

func TestIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	issued, err := f.creds.Issue(ctx, IssueRequest{Email: "  Jane.Doe@Acme.com ", Role: domain.RoleEmployee, Issuer: "hr@acme.com", RoleConfidence: 70})
	require.NoError(t, err)

	cred := issued.Credential
	assert.Equal(t, "jane.doe@acme.com", cred.Email)
	assert.Equal(t, domain.RoleEmployee, cred.RoleName)
	assert.Equal(t, 70, cred.RoleConfidence)
	assert.Equal(t, baseTime.Add(24*time.Hour), cred.ExpiresAt)
	assert.True(t, cred.MustChangeOnLogin)
	assert.False(t, cred.IsUsed)
	assert.NotEmpty(t, cred.SecurityToken)
	assert.Len(t, issued.Password, 16)
	assert.NotContains(t, cred.PasswordHash, issued.Password)

	ok, err := f.hasher.Verify(cred.PasswordHash, issued.Password)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, f.recorder.Count(domain.EventCredentialIssued))
}

func TestIssue_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.creds.Issue(ctx, IssueRequest{Email: "not-an-email", Role: domain.RoleEmployee, Issuer: "hr"})
	requireCode(t, err, domain.CodeInvalidEmailFormat)

	_, err = f.creds.Issue(ctx, IssueRequest{Email: "a.b@acme.com", Role: "wizard", Issuer: "hr"})
	requireCode(t, err, domain.CodeValidation)

	_, err = f.creds.Issue(ctx, IssueRequest{Email: "a.b@acme.com", Role: domain.RoleEmployee})
	requireCode(t, err, domain.CodeValidation)
}

func TestIssue_MultipleCredentialsLatestWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.issue(t, "sam.lee@acme.com", domain.RoleEmployee)
	f.clock.Advance(time.Minute)
	second := f.issue(t, "sam.lee@acme.com", domain.RoleManager)

	_, err := f.creds.Validate(ctx, ActivationInput{Email: "sam.lee@acme.com", Password: first.Password, NewPassword: newPassword})
	requireCode(t, err, domain.CodeInvalidCredential)

	res, err := f.creds.Validate(ctx, ActivationInput{Email: "sam.lee@acme.com", Password: second.Password, NewPassword: newPassword})
	require.NoError(t, err)
	assert.True(t, res.Activated)
	assert.Equal(t, domain.RoleManager, res.Role)

	history, err := f.creds.History(ctx, "sam.lee@acme.com")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestValidate_WrongWrongRight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)

	for i := 0; i < 2; i++ {
		_, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: "wrong-password", IPAddress: "10.0.0.1"})
		requireCode(t, err, domain.CodeInvalidCredential)
	}

	st, err := f.limiter.Status(ctx, guard.EmailKey("jane.doe@acme.com"), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, st.Count)
	assert.False(t, st.Blocked)

	res, err := f.creds.Validate(ctx, ActivationInput{
		Email:             "jane.doe@acme.com",
		Password:          issued.Password,
		NewPassword:       newPassword,
		IPAddress:         "10.0.0.1",
		DeviceFingerprint: "laptop-1",
	})
	require.NoError(t, err)
	assert.True(t, res.Activated)
	assert.True(t, res.CreatedAccount)
	assert.False(t, res.RequiresPasswordChange)

	account, err := f.store.FindAccountByEmail(ctx, "jane.doe@acme.com")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, res.UserID, account.ID)
	assert.False(t, account.MustChangePassword)
	ok, err := f.hasher.Verify(account.PasswordHash, newPassword)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 2, f.recorder.Count(domain.EventCredentialValidationFailed))
	assert.Equal(t, 1, f.recorder.Count(domain.EventCredentialConsumed))
	assert.Equal(t, 1, f.recorder.Count(domain.EventAccountActivated))

	attempts := f.store.LoginAttempts("jane.doe@acme.com")
	require.Len(t, attempts, 3)
	assert.False(t, attempts[0].Success)
	assert.True(t, attempts[2].Success)

	_, err = f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: issued.Password, NewPassword: newPassword})
	requireCode(t, err, domain.CodeNoValidCredential)
}

func TestValidate_RateLimitedAfterThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)

	for i := 0; i < guard.DefaultEmailThreshold; i++ {
		_, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: "nope"})
		requireCode(t, err, domain.CodeInvalidCredential)
	}

	_, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: issued.Password, NewPassword: newPassword})
	requireCode(t, err, domain.CodeRateLimited)

	f.clock.Advance(guard.DefaultWindow)
	res, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: issued.Password, NewPassword: newPassword})
	require.NoError(t, err)
	assert.True(t, res.Activated)
}

func TestValidate_Expired(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)

	f.clock.Advance(domain.CredentialTTL)
	_, err := f.creds.Validate(context.Background(), ActivationInput{Email: "jane.doe@acme.com", Password: issued.Password, NewPassword: newPassword})
	requireCode(t, err, domain.CodeNoValidCredential)
}

func TestValidate_PasswordChangeRequiredDoesNotConsume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)

	res, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: issued.Password})
	require.NoError(t, err)
	assert.False(t, res.Activated)
	assert.True(t, res.RequiresPasswordChange)

	cred, err := f.store.FindLatestValidCredential(ctx, "jane.doe@acme.com", f.clock.Now())
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.False(t, cred.IsUsed)
	assert.Equal(t, 1, f.recorder.Count(domain.EventCredentialPasswordChangeDue))
}

func TestValidate_NewPasswordPolicy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)

	_, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: issued.Password, NewPassword: "short"})
	requireCode(t, err, domain.CodeValidation)

	_, err = f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: issued.Password, NewPassword: issued.Password})
	requireCode(t, err, domain.CodeValidation)
}

func TestValidate_ReactivatesExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)
	res, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: first.Password, NewPassword: newPassword})
	require.NoError(t, err)

	second := f.issue(t, "jane.doe@acme.com", domain.RoleManager)
	again, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: second.Password, NewPassword: "An0ther-Passw0rd!"})
	require.NoError(t, err)
	assert.False(t, again.CreatedAccount)
	assert.Equal(t, res.UserID, again.UserID)

	account, err := f.store.FindAccountByEmail(ctx, "jane.doe@acme.com")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleManager, account.Role)
}

func TestValidate_ConcurrentActivationExactlyOnce(t *testing.T) {
	f := newFixture(t)
	issued := f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)

	const callers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		activated int
		rejected  int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.creds.Validate(context.Background(), ActivationInput{
				Email:       "jane.doe@acme.com",
				Password:    issued.Password,
				NewPassword: newPassword,
			})
			mu.Lock()
			defer mu.Unlock()
			if err == nil && res.Activated {
				activated++
				return
			}
			// Callers that find every window slot in flight are turned away too.
			if domain.IsCode(err, domain.CodeCredentialConsumed) ||
				domain.IsCode(err, domain.CodeNoValidCredential) ||
				domain.IsCode(err, domain.CodeRateLimited) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, activated)
	assert.Equal(t, callers-1, rejected)
	assert.Equal(t, 1, f.recorder.Count(domain.EventAccountActivated))
}

func TestValidate_ConcurrentWrongPasswordsStopAtThreshold(t *testing.T) {
	f := newFixture(t)
	f.hasher.WithArgon2Params(auth.DefaultArgon2Params())
	f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)

	const callers = 30
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[string]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.creds.Validate(context.Background(), ActivationInput{Email: "jane.doe@acme.com", Password: "wrong-password"})
			var appErr *domain.AppError
			if !assert.ErrorAs(t, err, &appErr) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			codes[appErr.Code]++
		}()
	}
	wg.Wait()

	assert.Equal(t, guard.DefaultEmailThreshold, codes[domain.CodeInvalidCredential], "codes: %v", codes)
	assert.Equal(t, callers-guard.DefaultEmailThreshold, codes[domain.CodeRateLimited], "codes: %v", codes)
	assert.Equal(t, guard.DefaultEmailThreshold, f.recorder.Count(domain.EventCredentialValidationFailed))
}

func TestValidate_SuccessDoesNotCountAgainstWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	issued := f.issue(t, "jane.doe@acme.com", domain.RoleEmployee)

	_, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: "wrong-password"})
	requireCode(t, err, domain.CodeInvalidCredential)

	res, err := f.creds.Validate(ctx, ActivationInput{Email: "jane.doe@acme.com", Password: issued.Password})
	require.NoError(t, err)
	assert.True(t, res.RequiresPasswordChange)

	_, err = f.creds.Validate(ctx, ActivationInput{Email: "nobody@acme.com", Password: "whatever-password"})
	requireCode(t, err, domain.CodeNoValidCredential)

	st, err := f.limiter.Status(ctx, guard.EmailKey("jane.doe@acme.com"), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, st.Count)

	st, err = f.limiter.Status(ctx, guard.EmailKey("nobody@acme.com"), f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, st.Count)
}
