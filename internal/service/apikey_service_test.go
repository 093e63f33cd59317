package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"novacore/internal/entity"
	"novacore/internal/repository"
	"novacore/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createKey(t *testing.T, env *testEnv, owner uuid.UUID, scopes []string) *CreateKeyResult {
	t.Helper()
	result, err := env.apiKeys.Create(context.Background(), CreateKeyInput{
		Owner:  owner,
		Name:   "ci-pipeline",
		Scopes: scopes,
	})
	require.NoError(t, err)
	return result
}

func TestCreateKeyReturnsPlaintextOnce(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")

	result := createKey(t, env, account.ID, []string{"read"})

	assert.True(t, strings.HasPrefix(result.Plaintext, "nvc_"))
	assert.Equal(t, env.clock.Now().Add(30*24*time.Hour), result.ExpiresAt)

	// Storage holds the digest, never the plaintext.
	keys, err := env.keys.ListByOwner(context.Background(), account.ID, true)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0].SecretHash, result.Plaintext)
	assert.NotEqual(t, result.Plaintext, keys[0].SecretHash)
}

func TestAuthorizeChecksScopeAndIP(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	result, err := env.apiKeys.Create(ctx, CreateKeyInput{
		Owner:       account.ID,
		Name:        "restricted",
		Scopes:      []string{"read"},
		IPAllowlist: []string{"10.0.0.1"},
	})
	require.NoError(t, err)

	authz, err := env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read", SourceIP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, result.KeyID, authz.KeyID)
	assert.Equal(t, account.ID, authz.OwnerID)

	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "write", SourceIP: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrKeyScopeDenied)

	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read", SourceIP: "192.168.1.9"})
	assert.ErrorIs(t, err, ErrKeyIPDenied)

	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: "nvc_bogus", RequiredScope: "read", SourceIP: "10.0.0.1"})
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestAuthorizeFailuresAreAlwaysAudited(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	result := createKey(t, env, account.ID, []string{"read"})
	_, err := env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "admin"})
	require.ErrorIs(t, err, ErrKeyScopeDenied)

	events, err := env.auditRepo.Query(ctx, repository.AuditFilter{
		Category: entity.CategoryAPI,
		Action:   "key_authorize",
		Outcome:  entity.OutcomeFailure,
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestAuthorizeExpiredKey(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	result := createKey(t, env, account.ID, []string{"read"})
	env.clock.Advance(31 * 24 * time.Hour)

	_, err := env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read"})
	assert.ErrorIs(t, err, ErrKeyExpired)

	// The lazy transition is durable.
	keys, err := env.keys.ListByOwner(ctx, account.ID, true)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, entity.APIKeyExpired, keys[0].Status)
}

func TestRotationGraceWindow(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	old := createKey(t, env, account.ID, []string{"read"})
	rotated, err := env.apiKeys.Rotate(ctx, account.ID, old.KeyID)
	require.NoError(t, err)
	assert.Equal(t, old.KeyID, rotated.KeyID)
	assert.NotEqual(t, old.Plaintext, rotated.Plaintext)

	// Both generations validate inside the grace window.
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: old.Plaintext, RequiredScope: "read"})
	assert.NoError(t, err)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: rotated.Plaintext, RequiredScope: "read"})
	assert.NoError(t, err)

	// Past the grace deadline only the new material works.
	env.clock.Advance(25 * time.Hour)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: old.Plaintext, RequiredScope: "read"})
	assert.ErrorIs(t, err, ErrKeyExpired)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: rotated.Plaintext, RequiredScope: "read"})
	assert.NoError(t, err)
}

func TestRevokeEndsGraceMaterialToo(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	old := createKey(t, env, account.ID, []string{"read"})
	rotated, err := env.apiKeys.Rotate(ctx, account.ID, old.KeyID)
	require.NoError(t, err)

	require.NoError(t, env.apiKeys.Revoke(ctx, account.ID, old.KeyID))

	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: old.Plaintext, RequiredScope: "read"})
	assert.ErrorIs(t, err, ErrKeyRevoked)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: rotated.Plaintext, RequiredScope: "read"})
	assert.ErrorIs(t, err, ErrKeyRevoked)

	// Revocation is terminal.
	_, err = env.apiKeys.Rotate(ctx, account.ID, old.KeyID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRevokeRejectsForeignOwner(t *testing.T) {
	env := newTestEnv(t)
	alice := env.register(t, "alice", "correct horse battery")
	bob := env.register(t, "bob", "another long password")
	ctx := context.Background()

	key := createKey(t, env, alice.ID, []string{"read"})
	err := env.apiKeys.Revoke(ctx, bob.ID, key.KeyID)
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestPerKeyRateLimit(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	result, err := env.apiKeys.Create(ctx, CreateKeyInput{
		Owner:     account.ID,
		Name:      "throttled",
		Scopes:    []string{"read"},
		RateLimit: 10,
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read"})
		require.NoError(t, err)
	}
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read"})
	assert.ErrorIs(t, err, ErrKeyRateLimited)

	// A fresh window refills the budget.
	env.clock.Advance(time.Minute)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read"})
	assert.NoError(t, err)
}

func TestRateLimitSharedAcrossWorkers(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	result, err := env.apiKeys.Create(ctx, CreateKeyInput{
		Owner:     account.ID,
		Name:      "throttled",
		Scopes:    []string{"read"},
		RateLimit: 10,
	})
	require.NoError(t, err)

	// A second service instance over the same store stands in for another
	// worker process. The window lives on the key row, so both draw from
	// one budget.
	other := NewAPIKeyService(
		env.keys, env.accounts, env.audit, env.notifier, env.clock,
		APIKeyConfig{DefaultTTL: 30 * 24 * time.Hour, RotationGrace: 24 * time.Hour, AuthzAuditSample: 100},
	)

	for i := 0; i < 10; i++ {
		_, err := env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read"})
		require.NoError(t, err)
	}
	_, err = other.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read"})
	assert.ErrorIs(t, err, ErrKeyRateLimited)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: result.Plaintext, RequiredScope: "read"})
	assert.ErrorIs(t, err, ErrKeyRateLimited)
}

func TestSweepExpiredIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	createKey(t, env, account.ID, []string{"read"})
	env.clock.Advance(31 * 24 * time.Hour)

	expired, err := env.apiKeys.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	// A second sweep finds nothing left to flip.
	expired, err = env.apiKeys.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	events, err := env.auditRepo.Query(ctx, repository.AuditFilter{
		Category: entity.CategoryAPI,
		Action:   "key_expired",
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestSweepSparesRotatedMaterialInsideGrace(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	old := createKey(t, env, account.ID, []string{"read"})
	env.clock.Advance(30*24*time.Hour - time.Hour)
	rotated, err := env.apiKeys.Rotate(ctx, account.ID, old.KeyID)
	require.NoError(t, err)

	// The old material is past its own expiry but still inside the
	// rotation grace.
	env.clock.Advance(2 * time.Hour)
	_, err = env.apiKeys.SweepExpired(ctx)
	require.NoError(t, err)

	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: old.Plaintext, RequiredScope: "read"})
	assert.NoError(t, err)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: rotated.Plaintext, RequiredScope: "read"})
	assert.NoError(t, err)
}

func TestSweepRetiresRotatedMaterialAfterGrace(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	old := createKey(t, env, account.ID, []string{"read"})
	rotated, err := env.apiKeys.Rotate(ctx, account.ID, old.KeyID)
	require.NoError(t, err)

	// Grace elapsed, but the old material's own expiry is still a month
	// out. The row must reach a terminal status anyway.
	env.clock.Advance(25 * time.Hour)
	expired, err := env.apiKeys.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	keys, err := env.keys.ListByOwner(ctx, account.ID, true)
	require.NoError(t, err)
	for _, key := range keys {
		if key.SecretHash == utils.HashToken(old.Plaintext) {
			assert.Equal(t, entity.APIKeyExpired, key.Status)
		}
	}

	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: old.Plaintext, RequiredScope: "read"})
	assert.ErrorIs(t, err, ErrKeyExpired)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: rotated.Plaintext, RequiredScope: "read"})
	assert.NoError(t, err)
}

func TestSweepSendsExpiryNotice(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	result := createKey(t, env, account.ID, []string{"read"})
	env.clock.Advance(31 * 24 * time.Hour)

	_, err := env.apiKeys.SweepExpired(ctx)
	require.NoError(t, err)

	sent := env.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "key_expiry_notice", sent[0].Template)
	assert.Equal(t, account.Email, sent[0].To)
	assert.Equal(t, "ci-pipeline", sent[0].Params["name"])
	assert.Equal(t, result.ExpiresAt.Format(time.RFC3339), sent[0].Params["expires_at"])
}

func TestRotationNoticeCarriesDeadlines(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	old := createKey(t, env, account.ID, []string{"read"})
	rotated, err := env.apiKeys.Rotate(ctx, account.ID, old.KeyID)
	require.NoError(t, err)

	sent := env.sender.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "key_rotation_notice", sent[0].Template)
	assert.Equal(t, env.clock.Now().Add(24*time.Hour).Format(time.RFC3339), sent[0].Params["grace_until"])
	assert.Equal(t, rotated.ExpiresAt.Format(time.RFC3339), sent[0].Params["expires_at"])
}

func TestStatsSummarizesKeyFleet(t *testing.T) {
	env := newTestEnv(t)
	account := env.register(t, "alice", "correct horse battery")
	ctx := context.Background()

	reader := createKey(t, env, account.ID, []string{"read"})
	writer := createKey(t, env, account.ID, []string{"read", "write"})
	revoked := createKey(t, env, account.ID, []string{"admin"})
	require.NoError(t, env.apiKeys.Revoke(ctx, account.ID, revoked.KeyID))

	_, err := env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: reader.Plaintext, RequiredScope: "read"})
	require.NoError(t, err)
	_, err = env.apiKeys.Authorize(ctx, AuthorizeInput{Secret: writer.Plaintext, RequiredScope: "write"})
	require.NoError(t, err)

	// Inside the seven-day reminder horizon.
	env.clock.Advance(29 * 24 * time.Hour)
	stats, err := env.apiKeys.Stats(ctx, account.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalKeys)
	assert.Equal(t, 2, stats.ActiveKeys)
	assert.Equal(t, 2, stats.ExpiringSoon)
	assert.Equal(t, 1, stats.RevokedKeys)
	assert.Equal(t, 0, stats.ExpiredKeys)
	assert.Equal(t, int64(2), stats.TotalUsage)
	assert.Equal(t, 2, stats.KeysByScope["read"])
	assert.Equal(t, 1, stats.KeysByScope["write"])
	assert.Equal(t, 1, stats.KeysByScope["admin"])
}
