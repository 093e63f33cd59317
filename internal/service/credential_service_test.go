package service

import (
	"context"
	"io"
	"testing"
	"time"

	"novacore/internal/entity"
	"novacore/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	clock      *manualClock
	accounts   *fakeAccountRepo
	secrets    *fakeTwoFactorRepo
	emailCodes *fakeEmailCodeRepo
	keys       *fakeAPIKeyRepo
	auditRepo  *fakeAuditRepo
	consents   *fakeConsentRepo
	requests   *fakeSubjectRequestRepo
	legal      *fakeLegalRepo
	sender     *recordingSender

	audit       *AuditService
	notifier    *Notifier
	credentials *CredentialService
	twoFactor   *TwoFactorService
	apiKeys     *APIKeyService
	compliance  *ComplianceService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	env := &testEnv{
		clock:      newManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
		accounts:   newFakeAccountRepo(),
		secrets:    newFakeTwoFactorRepo(),
		emailCodes: newFakeEmailCodeRepo(),
		keys:       newFakeAPIKeyRepo(),
		auditRepo:  newFakeAuditRepo(),
		consents:   newFakeConsentRepo(),
		requests:   newFakeSubjectRequestRepo(),
		legal:      newFakeLegalRepo(),
		sender:     &recordingSender{},
	}

	retention := map[entity.AuditCategory]time.Duration{
		entity.CategoryAuth:       1095 * 24 * time.Hour,
		entity.CategorySecurity:   1095 * 24 * time.Hour,
		entity.CategoryAPI:        1095 * 24 * time.Hour,
		entity.CategoryGDPR:       2555 * 24 * time.Hour,
		entity.CategoryCompliance: 2555 * 24 * time.Hour,
	}
	env.audit = NewAuditService(env.auditRepo, logger, env.clock, retention)
	env.notifier = &Notifier{
		sender:  env.sender,
		audit:   env.audit,
		logger:  logger,
		retries: 1,
		backoff: time.Millisecond,
	}

	challenges := ChallengeTokenIssuer{Secret: []byte("test-secret"), Issuer: "novacore-test", TTL: 5 * time.Minute}

	env.credentials = NewCredentialService(
		env.accounts, env.secrets, env.consents, env.legal,
		env.audit, plainHasher{}, staticTokens{}, challenges,
		env.clock,
		CredentialConfig{LockoutThreshold: 5, LockoutDuration: 30 * time.Minute},
	)
	env.twoFactor = NewTwoFactorService(
		env.accounts, env.secrets, env.emailCodes,
		env.audit, fakeTOTP{validCode: "246810"}, challenges, env.notifier,
		env.clock,
		TwoFactorConfig{BackupCodeCount: 10, EmailCodeTTL: 10 * time.Minute, EmailCodeAttempts: 3},
	)
	env.apiKeys = NewAPIKeyService(
		env.keys, env.accounts, env.audit, env.notifier, env.clock,
		APIKeyConfig{DefaultTTL: 30 * 24 * time.Hour, RotationGrace: 24 * time.Hour, AuthzAuditSample: 100},
	)
	env.compliance = NewComplianceService(
		env.accounts, env.consents, env.requests, env.legal,
		env.keys, env.secrets, env.emailCodes,
		env.audit, env.notifier, logger, env.clock,
		ComplianceConfig{ErasureGrace: 30 * 24 * time.Hour},
	)
	return env
}

func (env *testEnv) register(t *testing.T, username string, password string) *entity.Account {
	t.Helper()
	account, err := env.credentials.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: password,
		Consent:  ConsentInput{Purpose: "service_provision", Granted: true},
	})
	require.NoError(t, err)
	return account
}

func (env *testEnv) authEvents(t *testing.T, action string) []entity.AuditEvent {
	t.Helper()
	events, err := env.auditRepo.Query(context.Background(), repository.AuditFilter{
		Category: entity.CategoryAuth,
		Action:   action,
	})
	require.NoError(t, err)
	return events
}

func TestRegisterRecordsConsentAndAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := env.register(t, "alice", "correct horse battery")

	require.NotNil(t, account.PasswordHash)
	assert.NotEqual(t, "correct horse battery", *account.PasswordHash)

	consents, err := env.consents.ListByAccount(ctx, account.ID)
	require.NoError(t, err)
	require.Len(t, consents, 1)
	assert.True(t, consents[0].Granted)

	events := env.authEvents(t, "register")
	require.Len(t, events, 1)
	assert.Equal(t, account.ID.String(), events[0].Actor)
}

func TestRegisterRejectsDuplicateUsername(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "pw-one-long-enough")

	_, err := env.credentials.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "other@example.com",
		Password: "pw-two-long-enough",
	})
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestVerifySucceedsWithCorrectPassword(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")

	result, err := env.credentials.Verify(context.Background(), VerifyInput{
		Username: "alice",
		Password: "correct horse battery",
	})
	require.NoError(t, err)
	assert.Equal(t, account.ID, result.AccountID)
	assert.NotEmpty(t, result.AccessToken)
	assert.False(t, result.TwoFactorRequired)

	stored, err := env.accounts.FindByID(context.Background(), account.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastLoginAt)
}

func TestVerifyUnknownUserLooksLikeBadPassword(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.credentials.Verify(context.Background(), VerifyInput{
		Username: "nobody",
		Password: "whatever-password",
	})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	events := env.authEvents(t, "verify_credentials")
	require.Len(t, events, 1)
	assert.Equal(t, entity.ActorAnonymous, events[0].Actor)
	assert.Equal(t, entity.OutcomeFailure, events[0].Outcome)
}

func TestVerifyLockoutAfterThresholdFailures(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := env.credentials.Verify(ctx, VerifyInput{Username: "alice", Password: "wrong"})
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// The correct password is refused while the account is locked.
	_, err := env.credentials.Verify(ctx, VerifyInput{Username: "alice", Password: "correct horse battery"})
	assert.ErrorIs(t, err, ErrAccountLocked)

	lockEvents, err := env.auditRepo.Query(ctx, repository.AuditFilter{
		Category: entity.CategorySecurity,
		Action:   "account_locked",
	})
	require.NoError(t, err)
	assert.Len(t, lockEvents, 1)

	// The lock clears once the duration elapses, and a success resets the
	// counter.
	env.clock.Advance(31 * time.Minute)
	result, err := env.credentials.Verify(ctx, VerifyInput{Username: "alice", Password: "correct horse battery"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)

	stored, err := env.accounts.FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.FailedAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestVerifyEmitsExactlyOneAuthEventPerAttempt(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	attempts := []string{"wrong", "correct horse battery", "wrong again"}
	for _, password := range attempts {
		_, _ = env.credentials.Verify(ctx, VerifyInput{Username: "alice", Password: password})
	}

	events := env.authEvents(t, "verify_credentials")
	assert.Len(t, events, len(attempts))
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i].Seq, events[i-1].Seq)
	}
}

func TestVerifyWithTwoFactorEnabledIssuesChallenge(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	_, err := env.twoFactor.BeginEnrollment(ctx, account.ID)
	require.NoError(t, err)
	_, err = env.twoFactor.ConfirmEnrollment(ctx, account.ID, "246810")
	require.NoError(t, err)

	result, err := env.credentials.Verify(ctx, VerifyInput{Username: "alice", Password: "correct horse battery"})
	require.NoError(t, err)
	assert.True(t, result.TwoFactorRequired)
	assert.Empty(t, result.AccessToken)
	assert.NotEmpty(t, result.ChallengeToken)

	accountID, err := env.twoFactor.VerifyChallenge(ctx, ChallengeInput{
		ChallengeToken: result.ChallengeToken,
		Code:           "246810",
	})
	require.NoError(t, err)
	assert.Equal(t, account.ID, accountID)

	session, err := env.credentials.IssueSession(ctx, accountID)
	require.NoError(t, err)
	assert.NotEmpty(t, session.AccessToken)
}

func TestVerifyFlagsReconsentAfterLegalChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.compliance.RegisterLegalChange(ctx, LegalChangeInput{
		ChangeType:  "policy_update",
		Title:       "Initial privacy policy",
		Description: "Baseline terms.",
	})
	require.NoError(t, err)

	env.register(t, "alice", "correct horse battery")

	_, err = env.compliance.RegisterLegalChange(ctx, LegalChangeInput{
		ChangeType:  "policy_update",
		Title:       "Updated privacy policy",
		Description: "Clarified data sharing terms.",
	})
	require.NoError(t, err)

	result, err := env.credentials.Verify(ctx, VerifyInput{Username: "alice", Password: "correct horse battery"})
	require.NoError(t, err)
	assert.True(t, result.ReconsentRequired)
}
