package service

import (
	"context"
	"strings"
	"time"

	"novacore/internal/entity"
	"novacore/internal/repository"
	"novacore/internal/utils"

	"github.com/google/uuid"
)

// Comparing against this hash when the username is unknown keeps the
// timing of the failure path flat, so callers cannot probe for accounts.
const dummyPasswordHash = "$2a$10$CwTycUXWue0Thq9StjUM0uJ8yQbWc1x9uxw2sQ2sXUNx5x9xJ9F2S"

type CredentialConfig struct {
	LockoutThreshold int
	LockoutDuration  time.Duration
}

type CredentialService struct {
	accounts   repository.AccountRepository
	twoFactors repository.TwoFactorRepository
	consents   repository.ConsentRepository
	legal      repository.LegalChangeRepository

	audit        *AuditService
	passwordHash PasswordHasher
	accessTokens AccessTokenIssuer
	challenges   ChallengeIssuer
	clock        Clock

	lockoutThreshold int
	lockoutDuration  time.Duration
}

func NewCredentialService(
	accounts repository.AccountRepository,
	twoFactors repository.TwoFactorRepository,
	consents repository.ConsentRepository,
	legal repository.LegalChangeRepository,
	audit *AuditService,
	passwordHash PasswordHasher,
	accessTokens AccessTokenIssuer,
	challenges ChallengeIssuer,
	clock Clock,
	cfg CredentialConfig,
) *CredentialService {
	return &CredentialService{
		accounts:         accounts,
		twoFactors:       twoFactors,
		consents:         consents,
		legal:            legal,
		audit:            audit,
		passwordHash:     passwordHash,
		accessTokens:     accessTokens,
		challenges:       challenges,
		clock:            clock,
		lockoutThreshold: cfg.LockoutThreshold,
		lockoutDuration:  cfg.LockoutDuration,
	}
}

func (s *CredentialService) Register(ctx context.Context, input RegisterInput) (*entity.Account, error) {
	username := strings.TrimSpace(input.Username)
	email := utils.NormalizeEmail(input.Email)
	if username == "" || email == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		existing, err = s.accounts.FindByEmail(ctx, email)
		if err != nil {
			return nil, err
		}
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	hash, err := s.passwordHash.Hash(input.Password)
	if err != nil {
		return nil, err
	}

	version := s.currentLegalVersion(ctx)
	account := &entity.Account{
		Username:        username,
		Email:           email,
		PasswordHash:    &hash,
		TwoFactorStatus: entity.TwoFactorDisabled,
		ConsentVersion:  version,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}

	consent := input.Consent
	if consent.Purpose == "" {
		consent.Purpose = "service_provision"
	}
	if consent.Mechanism == "" {
		consent.Mechanism = entity.ConsentExplicit
	}
	if err := s.consents.Append(ctx, &entity.ConsentRecord{
		AccountID:        account.ID,
		Purpose:          consent.Purpose,
		Granted:          consent.Granted,
		Mechanism:        consent.Mechanism,
		LegalTextVersion: version,
		CreatedAt:        s.clock.Now(),
	}); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, AuditEntry{
		Category: entity.CategoryAuth,
		Actor:    account.ID.String(),
		Action:   "register",
		Outcome:  entity.OutcomeSuccess,
		Metadata: map[string]any{"username": username},
	})
	return account, nil
}

// Verify checks a password attempt. Exactly one auth audit event comes out
// of every call; crossing the lockout threshold adds one security event on
// top.
func (s *CredentialService) Verify(ctx context.Context, input VerifyInput) (*VerifyResult, error) {
	if strings.TrimSpace(input.Username) == "" || strings.TrimSpace(input.Password) == "" {
		return nil, ErrInvalidInput
	}

	now := s.clock.Now()
	account, err := s.accounts.FindByUsername(ctx, strings.TrimSpace(input.Username))
	if err != nil {
		return nil, err
	}
	if account == nil || account.PasswordHash == nil {
		_ = s.passwordHash.Verify(dummyPasswordHash, input.Password)
		s.auditAttempt(ctx, entity.ActorAnonymous, input.SourceIP, entity.OutcomeFailure, "unknown_user")
		return nil, ErrInvalidCredentials
	}

	// The compare runs before the lockout check so locked and unlocked
	// attempts take the same time.
	passwordOK := s.passwordHash.Verify(*account.PasswordHash, input.Password)

	if account.IsLocked(now) {
		s.auditAttempt(ctx, account.ID.String(), input.SourceIP, entity.OutcomeFailure, "locked")
		return nil, ErrAccountLocked
	}

	if !passwordOK {
		attempts, err := s.accounts.RecordFailure(ctx, account.ID, s.lockoutThreshold, now.Add(s.lockoutDuration))
		if err != nil {
			return nil, err
		}
		s.auditAttempt(ctx, account.ID.String(), input.SourceIP, entity.OutcomeFailure, "bad_password")
		if attempts == s.lockoutThreshold {
			_ = s.audit.Record(ctx, AuditEntry{
				Category: entity.CategorySecurity,
				Actor:    account.ID.String(),
				Action:   "account_locked",
				Outcome:  entity.OutcomeSuccess,
				Metadata: map[string]any{
					"failed_attempts": attempts,
					"locked_until":    now.Add(s.lockoutDuration),
				},
			})
		}
		return nil, ErrInvalidCredentials
	}

	if err := s.accounts.ResetFailures(ctx, account.ID, now); err != nil {
		return nil, err
	}

	result := &VerifyResult{
		AccountID:         account.ID,
		ReconsentRequired: s.reconsentRequired(ctx, account),
	}

	if account.TwoFactorStatus == entity.TwoFactorEnabled {
		token, ttl, err := s.challenges.Issue(account.ID)
		if err != nil {
			return nil, err
		}
		result.TwoFactorRequired = true
		result.ChallengeToken = token
		result.ChallengeExpiresIn = int64(ttl.Seconds())
		s.auditAttempt(ctx, account.ID.String(), input.SourceIP, entity.OutcomeSuccess, "challenge_issued")
		return result, nil
	}

	token, ttl, err := s.accessTokens.Issue(account.ID.String(), account.Username)
	if err != nil {
		return nil, err
	}
	result.AccessToken = token
	result.ExpiresIn = int64(ttl.Seconds())
	s.auditAttempt(ctx, account.ID.String(), input.SourceIP, entity.OutcomeSuccess, "password")
	return result, nil
}

// IssueSession finishes a 2FA login after the challenge verified.
func (s *CredentialService) IssueSession(ctx context.Context, accountID uuid.UUID) (*VerifyResult, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrAccountNotFound
	}
	token, ttl, err := s.accessTokens.Issue(account.ID.String(), account.Username)
	if err != nil {
		return nil, err
	}
	return &VerifyResult{
		AccountID:         account.ID,
		AccessToken:       token,
		ExpiresIn:         int64(ttl.Seconds()),
		ReconsentRequired: s.reconsentRequired(ctx, account),
	}, nil
}

func (s *CredentialService) GetAccount(ctx context.Context, accountID uuid.UUID) (*entity.Account, error) {
	return s.accounts.FindByID(ctx, accountID)
}

func (s *CredentialService) auditAttempt(ctx context.Context, actor string, sourceIP *string, outcome entity.AuditOutcome, reason string) {
	metadata := map[string]any{"reason": reason}
	if sourceIP != nil {
		metadata["source_ip"] = *sourceIP
	}
	_ = s.audit.Record(ctx, AuditEntry{
		Category: entity.CategoryAuth,
		Actor:    actor,
		Action:   "verify_credentials",
		Outcome:  outcome,
		Metadata: metadata,
	})
}

func (s *CredentialService) reconsentRequired(ctx context.Context, account *entity.Account) bool {
	if s.legal == nil {
		return false
	}
	latest, err := s.legal.Latest(ctx)
	if err != nil || latest == nil {
		return false
	}
	return account.ConsentVersion != latest.Version
}

func (s *CredentialService) currentLegalVersion(ctx context.Context) string {
	if s.legal == nil {
		return ""
	}
	latest, err := s.legal.Latest(ctx)
	if err != nil || latest == nil {
		return "1.0"
	}
	return latest.Version
}
