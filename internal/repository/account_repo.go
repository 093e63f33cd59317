package repository

import (
	"context"
	"errors"
	"time"

	"novacore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountRepository interface {
	Create(ctx context.Context, account *entity.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Account, error)
	FindByUsername(ctx context.Context, username string) (*entity.Account, error)
	FindByEmail(ctx context.Context, email string) (*entity.Account, error)
	Update(ctx context.Context, account *entity.Account) error

	// RecordFailure atomically increments the failure counter and sets the
	// lockout timestamp once the threshold is crossed. Returns the counter
	// value after the increment.
	RecordFailure(ctx context.Context, id uuid.UUID, threshold int, lockedUntil time.Time) (int, error)
	ResetFailures(ctx context.Context, id uuid.UUID, lastLogin time.Time) error

	SetTwoFactorStatus(ctx context.Context, id uuid.UUID, status entity.TwoFactorStatus) error
	SetConsentVersion(ctx context.Context, id uuid.UUID, version string) error

	// Anonymize replaces personal fields with tombstone values. Guarded by
	// the anonymized flag so a re-run of a deferred erasure is a no-op.
	Anonymize(ctx context.Context, id uuid.UUID, username string, email string) (bool, error)
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(ctx context.Context, account *entity.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Account, error) {
	var account entity.Account
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&account).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &account, err
}

func (r *accountRepository) FindByUsername(ctx context.Context, username string) (*entity.Account, error) {
	var account entity.Account
	err := r.db.WithContext(ctx).
		Where("username = ? AND anonymized = false", username).
		First(&account).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &account, err
}

func (r *accountRepository) FindByEmail(ctx context.Context, email string) (*entity.Account, error) {
	var account entity.Account
	err := r.db.WithContext(ctx).
		Where("email = ? AND anonymized = false", email).
		First(&account).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &account, err
}

func (r *accountRepository) Update(ctx context.Context, account *entity.Account) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *accountRepository) RecordFailure(ctx context.Context, id uuid.UUID, threshold int, lockedUntil time.Time) (int, error) {
	var attempts int
	err := r.db.WithContext(ctx).Raw(`
		UPDATE accounts
		SET failed_attempts = failed_attempts + 1,
		    locked_until = CASE WHEN failed_attempts + 1 >= ? THEN ? ELSE locked_until END,
		    updated_at = now()
		WHERE id = ?
		RETURNING failed_attempts`,
		threshold, lockedUntil, id).Scan(&attempts).Error
	return attempts, err
}

func (r *accountRepository) ResetFailures(ctx context.Context, id uuid.UUID, lastLogin time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.Account{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_attempts": 0,
			"locked_until":    nil,
			"last_login_at":   lastLogin,
		}).Error
}

func (r *accountRepository) SetTwoFactorStatus(ctx context.Context, id uuid.UUID, status entity.TwoFactorStatus) error {
	return r.db.WithContext(ctx).
		Model(&entity.Account{}).
		Where("id = ?", id).
		Update("two_factor_status", status).
		Error
}

func (r *accountRepository) SetConsentVersion(ctx context.Context, id uuid.UUID, version string) error {
	return r.db.WithContext(ctx).
		Model(&entity.Account{}).
		Where("id = ?", id).
		Update("consent_version", version).
		Error
}

func (r *accountRepository) Anonymize(ctx context.Context, id uuid.UUID, username string, email string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.Account{}).
		Where("id = ? AND anonymized = false", id).
		Updates(map[string]any{
			"username":          username,
			"email":             email,
			"password_hash":     nil,
			"two_factor_status": entity.TwoFactorDisabled,
			"locked_until":      nil,
			"failed_attempts":   0,
			"anonymized":        true,
		})
	return result.RowsAffected > 0, result.Error
}
