package repository

import (
	"context"
	"errors"

	"novacore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConsentRepository interface {
	Append(ctx context.Context, record *entity.ConsentRecord) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]entity.ConsentRecord, error)
	LatestByPurpose(ctx context.Context, accountID uuid.UUID, purpose string) (*entity.ConsentRecord, error)
}

type consentRepository struct {
	db *gorm.DB
}

func NewConsentRepository(db *gorm.DB) ConsentRepository {
	return &consentRepository{db: db}
}

func (r *consentRepository) Append(ctx context.Context, record *entity.ConsentRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *consentRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]entity.ConsentRecord, error) {
	var records []entity.ConsentRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *consentRepository) LatestByPurpose(ctx context.Context, accountID uuid.UUID, purpose string) (*entity.ConsentRecord, error) {
	var record entity.ConsentRecord
	err := r.db.WithContext(ctx).
		Where("account_id = ? AND purpose = ?", accountID, purpose).
		Order("created_at DESC").
		First(&record).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &record, err
}
