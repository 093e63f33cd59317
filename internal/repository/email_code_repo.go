package repository

import (
	"context"
	"errors"
	"time"

	"novacore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type EmailCodeRepository interface {
	Create(ctx context.Context, code *entity.EmailCode) error
	FindValid(ctx context.Context, accountID uuid.UUID, digest string, now time.Time) (*entity.EmailCode, error)
	MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) error
	IncrementAttempts(ctx context.Context, accountID uuid.UUID) error
	DeleteForAccount(ctx context.Context, accountID uuid.UUID) error
}

type emailCodeRepository struct {
	db *gorm.DB
}

func NewEmailCodeRepository(db *gorm.DB) EmailCodeRepository {
	return &emailCodeRepository{db: db}
}

func (r *emailCodeRepository) Create(ctx context.Context, code *entity.EmailCode) error {
	return r.db.WithContext(ctx).Create(code).Error
}

func (r *emailCodeRepository) FindValid(ctx context.Context, accountID uuid.UUID, digest string, now time.Time) (*entity.EmailCode, error) {
	var code entity.EmailCode
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND code_hash = ? AND used_at IS NULL AND expires_at > ?",
			accountID, digest, now).
		First(&code).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &code, err
}

func (r *emailCodeRepository) MarkUsed(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.EmailCode{}).
		Where("id = ?", id).
		Update("used_at", now).
		Error
}

func (r *emailCodeRepository) IncrementAttempts(ctx context.Context, accountID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&entity.EmailCode{}).
		Where("account_id = ? AND used_at IS NULL", accountID).
		Update("attempts", gorm.Expr("attempts + 1")).
		Error
}

func (r *emailCodeRepository) DeleteForAccount(ctx context.Context, accountID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&entity.EmailCode{}).Error
}
