package service

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"novacore/internal/entity"
	"novacore/internal/repository"
	"novacore/internal/utils"

	"github.com/google/uuid"
)

type APIKeyConfig struct {
	DefaultTTL    time.Duration
	RotationGrace time.Duration

	// AuthzAuditSample records one successful authorization per N; failures
	// are always recorded.
	AuthzAuditSample int
}

// APIKeyService owns the key lifecycle. Plaintext secrets exist only in the
// return value of Create and Rotate; storage and authorization work on
// digests.
type APIKeyService struct {
	keys     repository.APIKeyRepository
	accounts repository.AccountRepository
	audit    *AuditService
	notifier *Notifier
	clock    Clock
	cfg      APIKeyConfig

	authzN atomic.Uint64
}

func NewAPIKeyService(
	keys repository.APIKeyRepository,
	accounts repository.AccountRepository,
	audit *AuditService,
	notifier *Notifier,
	clock Clock,
	cfg APIKeyConfig,
) *APIKeyService {
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 30 * 24 * time.Hour
	}
	if cfg.RotationGrace == 0 {
		cfg.RotationGrace = 24 * time.Hour
	}
	if cfg.AuthzAuditSample == 0 {
		cfg.AuthzAuditSample = 100
	}
	return &APIKeyService{
		keys:     keys,
		accounts: accounts,
		audit:    audit,
		notifier: notifier,
		clock:    clock,
		cfg:      cfg,
	}
}

func (s *APIKeyService) Create(ctx context.Context, input CreateKeyInput) (*CreateKeyResult, error) {
	if strings.TrimSpace(input.Name) == "" || len(input.Scopes) == 0 {
		return nil, ErrInvalidInput
	}
	owner, err := s.accounts.FindByID(ctx, input.Owner)
	if err != nil {
		return nil, err
	}
	if owner == nil || owner.Anonymized {
		return nil, ErrAccountNotFound
	}

	ttl := s.cfg.DefaultTTL
	if input.TTLDays > 0 {
		ttl = time.Duration(input.TTLDays) * 24 * time.Hour
	}

	secret, err := utils.GenerateAPIKeySecret()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	key := &entity.APIKey{
		ID:          uuid.New(),
		KeyID:       uuid.New(),
		OwnerID:     owner.ID,
		Name:        strings.TrimSpace(input.Name),
		SecretHash:  utils.HashToken(secret),
		Scopes:      input.Scopes,
		IPAllowlist: input.IPAllowlist,
		RateLimit:   input.RateLimit,
		Status:      entity.APIKeyActive,
		ExpiresAt:   now.Add(ttl),
	}
	if err := s.keys.Create(ctx, key); err != nil {
		return nil, err
	}

	s.auditKey(ctx, owner.ID, "key_created", entity.OutcomeSuccess, map[string]any{
		"key_id": key.KeyID.String(),
		"scopes": input.Scopes,
	})
	return &CreateKeyResult{KeyID: key.KeyID, Plaintext: secret, ExpiresAt: key.ExpiresAt}, nil
}

// Rotate issues fresh material under the same logical key. The old material
// stays valid until the grace deadline so deployed clients can switch over
// without an outage.
func (s *APIKeyService) Rotate(ctx context.Context, ownerID uuid.UUID, keyID uuid.UUID) (*CreateKeyResult, error) {
	current, err := s.keys.FindActiveByKeyID(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, ErrKeyNotFound
	}
	if current.OwnerID != ownerID {
		return nil, ErrKeyNotFound
	}

	secret, err := utils.GenerateAPIKeySecret()
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	replacement := &entity.APIKey{
		ID:          uuid.New(),
		KeyID:       current.KeyID,
		OwnerID:     current.OwnerID,
		Name:        current.Name,
		SecretHash:  utils.HashToken(secret),
		Scopes:      current.Scopes,
		IPAllowlist: current.IPAllowlist,
		RateLimit:   current.RateLimit,
		Status:      entity.APIKeyActive,
		ExpiresAt:   now.Add(s.cfg.DefaultTTL),
	}
	graceUntil := now.Add(s.cfg.RotationGrace)
	if err := s.keys.Rotate(ctx, current, replacement, graceUntil); err != nil {
		return nil, err
	}

	s.auditKey(ctx, ownerID, "key_rotated", entity.OutcomeSuccess, map[string]any{
		"key_id":      keyID.String(),
		"grace_until": graceUntil,
	})
	if s.notifier != nil {
		if owner, err := s.accounts.FindByID(ctx, ownerID); err == nil && owner != nil && !owner.Anonymized {
			s.notifier.Notify(ctx, &ownerID, owner.Email, "key_rotation_notice", map[string]string{
				"name":        current.Name,
				"grace_until": graceUntil.Format(time.RFC3339),
				"expires_at":  replacement.ExpiresAt.Format(time.RFC3339),
			})
		}
	}
	return &CreateKeyResult{KeyID: replacement.KeyID, Plaintext: secret, ExpiresAt: replacement.ExpiresAt}, nil
}

// Revoke ends every usable generation of the key at once, grace windows
// included. Revocation is terminal.
func (s *APIKeyService) Revoke(ctx context.Context, ownerID uuid.UUID, keyID uuid.UUID) error {
	current, err := s.keys.FindActiveByKeyID(ctx, keyID)
	if err != nil {
		return err
	}
	if current == nil || current.OwnerID != ownerID {
		return ErrKeyNotFound
	}

	affected, err := s.keys.RevokeByKeyID(ctx, keyID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrKeyNotFound
	}

	s.auditKey(ctx, ownerID, "key_revoked", entity.OutcomeSuccess, map[string]any{
		"key_id":    keyID.String(),
		"materials": affected,
	})
	return nil
}

func (s *APIKeyService) List(ctx context.Context, ownerID uuid.UUID, includeInactive bool) ([]entity.APIKey, error) {
	return s.keys.ListByOwner(ctx, ownerID, includeInactive)
}

// Authorize resolves the presented secret and applies the checks in a fixed
// order: existence, lifecycle status, expiry, scope, source IP, rate. The
// first failure wins and is always audited.
func (s *APIKeyService) Authorize(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error) {
	key, err := s.keys.FindBySecretHash(ctx, utils.HashToken(strings.TrimSpace(input.Secret)))
	if err != nil {
		return nil, err
	}
	if key == nil {
		s.auditAuthzFailure(ctx, nil, "unknown_key", input)
		return nil, ErrKeyNotFound
	}

	now := s.clock.Now()
	switch key.Status {
	case entity.APIKeyRevoked:
		s.auditAuthzFailure(ctx, key, "revoked", input)
		return nil, ErrKeyRevoked
	case entity.APIKeyExpired:
		s.auditAuthzFailure(ctx, key, "expired", input)
		return nil, ErrKeyExpired
	case entity.APIKeyRotated:
		if key.GraceUntil == nil || now.After(*key.GraceUntil) {
			s.auditAuthzFailure(ctx, key, "grace_elapsed", input)
			return nil, ErrKeyExpired
		}
	}
	if key.Status == entity.APIKeyActive && key.Expired(now) {
		// Lazy transition; the sweep would catch it, callers should not
		// have to wait for it.
		_, _ = s.keys.TransitionStatus(ctx, key.ID, entity.APIKeyActive, entity.APIKeyExpired)
		s.auditAuthzFailure(ctx, key, "expired", input)
		return nil, ErrKeyExpired
	}

	if input.RequiredScope != "" && !key.HasScope(input.RequiredScope) {
		s.auditAuthzFailure(ctx, key, "scope_denied", input)
		return nil, ErrKeyScopeDenied
	}
	if !key.AllowsIP(input.SourceIP) {
		s.auditAuthzFailure(ctx, key, "ip_denied", input)
		return nil, ErrKeyIPDenied
	}
	allowed, err := s.allowRate(ctx, key, now)
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.auditAuthzFailure(ctx, key, "rate_limited", input)
		return nil, ErrKeyRateLimited
	}

	if err := s.keys.RecordUsage(ctx, key.ID, now); err != nil {
		return nil, err
	}
	s.sampleAuthzSuccess(ctx, key, input)
	return &AuthorizeResult{KeyID: key.KeyID, OwnerID: key.OwnerID, Scopes: key.Scopes}, nil
}

// SweepExpired moves keys past their deadline into the expired state:
// active or rotated material past its expiry, and rotated material whose
// grace window elapsed. Conditional transitions make a concurrent or
// repeated sweep a no-op for rows already flipped. Owners of expired
// active material are reminded to rotate.
func (s *APIKeyService) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now()
	candidates, err := s.keys.FindExpiredCandidates(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range candidates {
		key := &candidates[i]
		if key.Status == entity.APIKeyRotated && key.GraceUntil != nil && now.Before(*key.GraceUntil) {
			continue
		}
		flipped, err := s.keys.TransitionStatus(ctx, key.ID, key.Status, entity.APIKeyExpired)
		if err != nil {
			return expired, err
		}
		if !flipped {
			continue
		}
		expired++
		s.auditKey(ctx, key.OwnerID, "key_expired", entity.OutcomeSuccess, map[string]any{
			"key_id": key.KeyID.String(),
			"from":   string(key.Status),
		})
		// Rotated material already has a replacement; nothing to remind.
		if key.Status != entity.APIKeyActive || s.notifier == nil {
			continue
		}
		if owner, err := s.accounts.FindByID(ctx, key.OwnerID); err == nil && owner != nil && !owner.Anonymized {
			s.notifier.Notify(ctx, &key.OwnerID, owner.Email, "key_expiry_notice", map[string]string{
				"name":       key.Name,
				"expires_at": key.ExpiresAt.Format(time.RFC3339),
			})
		}
	}
	return expired, nil
}

// KeyStats is the owner-facing fleet summary.
type KeyStats struct {
	TotalKeys    int            `json:"total_keys"`
	ActiveKeys   int            `json:"active_keys"`
	ExpiringSoon int            `json:"expiring_soon"`
	ExpiredKeys  int            `json:"expired_keys"`
	RevokedKeys  int            `json:"revoked_keys"`
	TotalUsage   int64          `json:"total_usage"`
	KeysByScope  map[string]int `json:"keys_by_scope"`
}

func (s *APIKeyService) Stats(ctx context.Context, ownerID uuid.UUID) (*KeyStats, error) {
	keys, err := s.keys.ListByOwner(ctx, ownerID, true)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	soon := now.Add(7 * 24 * time.Hour)
	stats := &KeyStats{KeysByScope: make(map[string]int)}
	for i := range keys {
		key := &keys[i]
		stats.TotalKeys++
		stats.TotalUsage += key.UsageCount
		switch key.Status {
		case entity.APIKeyActive:
			stats.ActiveKeys++
			if !key.ExpiresAt.After(soon) {
				stats.ExpiringSoon++
			}
		case entity.APIKeyExpired:
			stats.ExpiredKeys++
		case entity.APIKeyRevoked:
			stats.RevokedKeys++
		}
		for _, scope := range key.Scopes {
			stats.KeysByScope[scope]++
		}
	}
	return stats, nil
}

func (s *APIKeyService) allowRate(ctx context.Context, key *entity.APIKey, now time.Time) (bool, error) {
	if key.RateLimit <= 0 {
		return true, nil
	}
	return s.keys.ConsumeRateSlot(ctx, key.ID, now.Truncate(time.Minute), key.RateLimit)
}

func (s *APIKeyService) sampleAuthzSuccess(ctx context.Context, key *entity.APIKey, input AuthorizeInput) {
	if s.authzN.Add(1)%uint64(s.cfg.AuthzAuditSample) != 0 {
		return
	}
	s.auditKey(ctx, key.OwnerID, "key_authorized", entity.OutcomeSuccess, map[string]any{
		"key_id":    key.KeyID.String(),
		"scope":     input.RequiredScope,
		"source_ip": input.SourceIP,
		"sampled":   true,
	})
}

func (s *APIKeyService) auditAuthzFailure(ctx context.Context, key *entity.APIKey, reason string, input AuthorizeInput) {
	actor := entity.ActorAnonymous
	metadata := map[string]any{
		"reason":    reason,
		"scope":     input.RequiredScope,
		"source_ip": input.SourceIP,
	}
	if key != nil {
		actor = key.OwnerID.String()
		metadata["key_id"] = key.KeyID.String()
	}
	_ = s.audit.Record(ctx, AuditEntry{
		Category: entity.CategoryAPI,
		Actor:    actor,
		Action:   "key_authorize",
		Outcome:  entity.OutcomeFailure,
		Metadata: metadata,
	})
}

func (s *APIKeyService) auditKey(ctx context.Context, ownerID uuid.UUID, action string, outcome entity.AuditOutcome, metadata map[string]any) {
	_ = s.audit.Record(ctx, AuditEntry{
		Category: entity.CategoryAPI,
		Actor:    ownerID.String(),
		Action:   action,
		Outcome:  outcome,
		Metadata: metadata,
	})
}
