package repository

import (
	"context"
	"errors"
	"time"

	"novacore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type TwoFactorRepository interface {
	FindByAccountID(ctx context.Context, accountID uuid.UUID) (*entity.TwoFactorSecret, error)
	Upsert(ctx context.Context, secret *entity.TwoFactorSecret) error
	Delete(ctx context.Context, accountID uuid.UUID) error

	// ConsumeBackupCode marks the code with the given digest as used inside
	// one transaction. Returns (consumed, alreadyUsed).
	ConsumeBackupCode(ctx context.Context, accountID uuid.UUID, digest string, now time.Time) (bool, bool, error)
}

type twoFactorRepository struct {
	db *gorm.DB
}

func NewTwoFactorRepository(db *gorm.DB) TwoFactorRepository {
	return &twoFactorRepository{db: db}
}

func (r *twoFactorRepository) FindByAccountID(ctx context.Context, accountID uuid.UUID) (*entity.TwoFactorSecret, error) {
	var secret entity.TwoFactorSecret
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		First(&secret).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &secret, err
}

func (r *twoFactorRepository) Upsert(ctx context.Context, secret *entity.TwoFactorSecret) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"secret", "confirmed_at", "backup_codes"}),
		}).
		Create(secret).Error
}

func (r *twoFactorRepository) Delete(ctx context.Context, accountID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&entity.TwoFactorSecret{}).Error
}

func (r *twoFactorRepository) ConsumeBackupCode(ctx context.Context, accountID uuid.UUID, digest string, now time.Time) (bool, bool, error) {
	consumed := false
	alreadyUsed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var secret entity.TwoFactorSecret
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("account_id = ?", accountID).
			First(&secret).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		codes := []entity.BackupCode(secret.BackupCodes)
		for i := range codes {
			if codes[i].Digest != digest {
				continue
			}
			if codes[i].UsedAt != nil {
				alreadyUsed = true
				return nil
			}
			used := now
			codes[i].UsedAt = &used
			consumed = true
			return tx.Model(&secret).
				Update("backup_codes", datatypes.JSONSlice[entity.BackupCode](codes)).Error
		}
		return nil
	})

	return consumed, alreadyUsed, err
}
