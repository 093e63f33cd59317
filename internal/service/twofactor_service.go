package service

import (
	"context"
	"strings"
	"time"

	"novacore/internal/entity"
	"novacore/internal/repository"
	"novacore/internal/utils"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TwoFactorConfig struct {
	BackupCodeCount   int
	EmailCodeTTL      time.Duration
	EmailCodeAttempts int
}

// TwoFactorService drives the disabled -> pending -> enabled -> disabled
// state machine. The secret exists only while the state is pending or
// enabled; disable destroys it.
type TwoFactorService struct {
	accounts   repository.AccountRepository
	secrets    repository.TwoFactorRepository
	emailCodes repository.EmailCodeRepository

	audit      *AuditService
	totp       TOTPProvider
	challenges ChallengeIssuer
	notifier   *Notifier
	clock      Clock
	cfg        TwoFactorConfig
}

func NewTwoFactorService(
	accounts repository.AccountRepository,
	secrets repository.TwoFactorRepository,
	emailCodes repository.EmailCodeRepository,
	audit *AuditService,
	totp TOTPProvider,
	challenges ChallengeIssuer,
	notifier *Notifier,
	clock Clock,
	cfg TwoFactorConfig,
) *TwoFactorService {
	if cfg.BackupCodeCount == 0 {
		cfg.BackupCodeCount = 10
	}
	if cfg.EmailCodeTTL == 0 {
		cfg.EmailCodeTTL = 10 * time.Minute
	}
	if cfg.EmailCodeAttempts == 0 {
		cfg.EmailCodeAttempts = 3
	}
	return &TwoFactorService{
		accounts:   accounts,
		secrets:    secrets,
		emailCodes: emailCodes,
		audit:      audit,
		totp:       totp,
		challenges: challenges,
		notifier:   notifier,
		clock:      clock,
		cfg:        cfg,
	}
}

// BeginEnrollment generates a fresh shared secret and moves the account to
// pending. Login is not protected until the enrollment is confirmed.
func (s *TwoFactorService) BeginEnrollment(ctx context.Context, accountID uuid.UUID) (*EnrollmentResult, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Anonymized {
		return nil, ErrAccountNotFound
	}

	secret, err := s.totp.GenerateSecret(account.Email)
	if err != nil {
		return nil, err
	}
	uri, err := s.totp.ProvisioningURI(account.Email, secret)
	if err != nil {
		return nil, err
	}

	if err := s.secrets.Upsert(ctx, &entity.TwoFactorSecret{
		AccountID:   account.ID,
		Secret:      secret,
		ConfirmedAt: nil,
		BackupCodes: nil,
	}); err != nil {
		return nil, err
	}
	if err := s.accounts.SetTwoFactorStatus(ctx, account.ID, entity.TwoFactorPending); err != nil {
		return nil, err
	}

	s.auditSecurity(ctx, account.ID, "two_factor_enroll", entity.OutcomeSuccess, nil)
	return &EnrollmentResult{Secret: secret, ProvisioningURI: uri}, nil
}

// ConfirmEnrollment validates a current code against the pending secret and,
// on success, issues the backup codes. Plaintext codes are returned exactly
// once; only digests persist.
func (s *TwoFactorService) ConfirmEnrollment(ctx context.Context, accountID uuid.UUID, code string) ([]string, error) {
	secret, err := s.secrets.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, ErrTwoFactorNotConfigured
	}
	if secret.Enabled() {
		// An already-confirmed secret never re-issues backup codes here;
		// that path is RegenerateBackupCodes, which demands a fresh proof.
		s.auditSecurity(ctx, accountID, "two_factor_confirm", entity.OutcomeFailure, map[string]any{"reason": "already_enabled"})
		return nil, ErrInvalidInput
	}

	if !s.totp.ValidateCode(secret.Secret, strings.TrimSpace(code), s.clock.Now()) {
		s.auditSecurity(ctx, accountID, "two_factor_confirm", entity.OutcomeFailure, map[string]any{"reason": "invalid_code"})
		return nil, ErrTwoFactorInvalid
	}

	plaintext := make([]string, 0, s.cfg.BackupCodeCount)
	codes := make([]entity.BackupCode, 0, s.cfg.BackupCodeCount)
	for i := 0; i < s.cfg.BackupCodeCount; i++ {
		code, err := utils.GenerateBackupCode()
		if err != nil {
			return nil, err
		}
		plaintext = append(plaintext, code)
		codes = append(codes, entity.BackupCode{Digest: utils.HashToken(code)})
	}

	now := s.clock.Now()
	secret.ConfirmedAt = &now
	secret.BackupCodes = datatypes.JSONSlice[entity.BackupCode](codes)
	if err := s.secrets.Upsert(ctx, secret); err != nil {
		return nil, err
	}
	if err := s.accounts.SetTwoFactorStatus(ctx, accountID, entity.TwoFactorEnabled); err != nil {
		return nil, err
	}

	s.auditSecurity(ctx, accountID, "two_factor_confirm", entity.OutcomeSuccess, map[string]any{"backup_codes": len(codes)})
	return plaintext, nil
}

// VerifyChallenge finishes a login that needed a second factor. Accepts a
// current TOTP code, an unused backup code, or an email fallback code.
func (s *TwoFactorService) VerifyChallenge(ctx context.Context, input ChallengeInput) (uuid.UUID, error) {
	accountID, err := s.challenges.Parse(input.ChallengeToken)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}

	if err := s.verifyCode(ctx, accountID, input.Code, "challenge"); err != nil {
		return uuid.Nil, err
	}
	return accountID, nil
}

// VerifyCode checks a code for an already-authenticated caller (disable,
// backup-code regeneration).
func (s *TwoFactorService) VerifyCode(ctx context.Context, accountID uuid.UUID, code string) error {
	return s.verifyCode(ctx, accountID, code, "reauth")
}

// Disable requires a valid challenge first, so a stolen session cannot
// silently switch protection off. The secret and all backup codes are
// destroyed.
func (s *TwoFactorService) Disable(ctx context.Context, accountID uuid.UUID, code string) error {
	secret, err := s.secrets.FindByAccountID(ctx, accountID)
	if err != nil {
		return err
	}
	if secret == nil || !secret.Enabled() {
		return ErrTwoFactorNotConfigured
	}

	if err := s.verifyCode(ctx, accountID, code, "disable"); err != nil {
		return err
	}

	if err := s.secrets.Delete(ctx, accountID); err != nil {
		return err
	}
	if err := s.emailCodes.DeleteForAccount(ctx, accountID); err != nil {
		return err
	}
	if err := s.accounts.SetTwoFactorStatus(ctx, accountID, entity.TwoFactorDisabled); err != nil {
		return err
	}

	s.auditSecurity(ctx, accountID, "two_factor_disable", entity.OutcomeSuccess, nil)
	return nil
}

// RegenerateBackupCodes replaces the full set after a valid code check.
func (s *TwoFactorService) RegenerateBackupCodes(ctx context.Context, accountID uuid.UUID, code string) ([]string, error) {
	secret, err := s.secrets.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if secret == nil || !secret.Enabled() {
		return nil, ErrTwoFactorNotConfigured
	}

	if err := s.verifyCode(ctx, accountID, code, "regenerate_backup_codes"); err != nil {
		return nil, err
	}

	plaintext := make([]string, 0, s.cfg.BackupCodeCount)
	codes := make([]entity.BackupCode, 0, s.cfg.BackupCodeCount)
	for i := 0; i < s.cfg.BackupCodeCount; i++ {
		code, err := utils.GenerateBackupCode()
		if err != nil {
			return nil, err
		}
		plaintext = append(plaintext, code)
		codes = append(codes, entity.BackupCode{Digest: utils.HashToken(code)})
	}

	secret.BackupCodes = datatypes.JSONSlice[entity.BackupCode](codes)
	if err := s.secrets.Upsert(ctx, secret); err != nil {
		return nil, err
	}

	s.auditSecurity(ctx, accountID, "backup_codes_regenerated", entity.OutcomeSuccess, nil)
	return plaintext, nil
}

// SendEmailCode delivers a one-time fallback code. Delivery failure is
// degraded, not fatal.
func (s *TwoFactorService) SendEmailCode(ctx context.Context, accountID uuid.UUID) error {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}
	if account == nil || account.Anonymized {
		return ErrAccountNotFound
	}

	code, err := utils.GenerateNumericCode(6)
	if err != nil {
		return err
	}
	if err := s.emailCodes.Create(ctx, &entity.EmailCode{
		AccountID: account.ID,
		CodeHash:  utils.HashToken(code),
		ExpiresAt: s.clock.Now().Add(s.cfg.EmailCodeTTL),
	}); err != nil {
		return err
	}

	s.auditSecurity(ctx, account.ID, "two_factor_email_code_sent", entity.OutcomeSuccess, nil)
	if s.notifier != nil {
		s.notifier.Notify(ctx, &account.ID, account.Email, "two_factor_code", map[string]string{"code": code})
	}
	return nil
}

func (s *TwoFactorService) verifyCode(ctx context.Context, accountID uuid.UUID, code string, via string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return ErrInvalidInput
	}

	secret, err := s.secrets.FindByAccountID(ctx, accountID)
	if err != nil {
		return err
	}
	if secret == nil || !secret.Enabled() {
		return ErrTwoFactorNotConfigured
	}

	now := s.clock.Now()
	if s.totp.ValidateCode(secret.Secret, code, now) {
		s.auditSecurity(ctx, accountID, "two_factor_verify", entity.OutcomeSuccess, map[string]any{"method": "totp", "via": via})
		return nil
	}

	// Backup-code consumption happens in the same transaction as the
	// success decision; a consumed code can never validate twice.
	consumed, alreadyUsed, err := s.secrets.ConsumeBackupCode(ctx, accountID, utils.HashToken(code), now)
	if err != nil {
		return err
	}
	if consumed {
		s.auditSecurity(ctx, accountID, "two_factor_verify", entity.OutcomeSuccess, map[string]any{"method": "backup_code", "via": via})
		return nil
	}
	if alreadyUsed {
		s.auditSecurity(ctx, accountID, "two_factor_verify", entity.OutcomeFailure, map[string]any{"method": "backup_code", "reason": "reused", "via": via})
		return ErrTwoFactorCodeReused
	}

	if ok, err := s.verifyEmailCode(ctx, accountID, code, now); err != nil {
		return err
	} else if ok {
		s.auditSecurity(ctx, accountID, "two_factor_verify", entity.OutcomeSuccess, map[string]any{"method": "email", "via": via})
		return nil
	}

	s.auditSecurity(ctx, accountID, "two_factor_verify", entity.OutcomeFailure, map[string]any{"reason": "invalid_code", "via": via})
	return ErrTwoFactorInvalid
}

func (s *TwoFactorService) verifyEmailCode(ctx context.Context, accountID uuid.UUID, code string, now time.Time) (bool, error) {
	if s.emailCodes == nil {
		return false, nil
	}
	record, err := s.emailCodes.FindValid(ctx, accountID, utils.HashToken(code), now)
	if err != nil {
		return false, err
	}
	if record == nil {
		_ = s.emailCodes.IncrementAttempts(ctx, accountID)
		return false, nil
	}
	if record.Attempts >= s.cfg.EmailCodeAttempts {
		return false, nil
	}
	if err := s.emailCodes.MarkUsed(ctx, record.ID, now); err != nil {
		return false, err
	}
	return true, nil
}

func (s *TwoFactorService) auditSecurity(ctx context.Context, accountID uuid.UUID, action string, outcome entity.AuditOutcome, metadata map[string]any) {
	_ = s.audit.Record(ctx, AuditEntry{
		Category: entity.CategorySecurity,
		Actor:    accountID.String(),
		Action:   action,
		Outcome:  outcome,
		Metadata: metadata,
	})
}
