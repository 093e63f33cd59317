package repository

import (
	"context"
	"errors"

	"novacore/internal/entity"

	"gorm.io/gorm"
)

type LegalChangeRepository interface {
	Create(ctx context.Context, change *entity.LegalChange) error
	LatestByType(ctx context.Context, changeType string) (*entity.LegalChange, error)
	Latest(ctx context.Context) (*entity.LegalChange, error)
	List(ctx context.Context, limit int) ([]entity.LegalChange, error)
}

type legalChangeRepository struct {
	db *gorm.DB
}

func NewLegalChangeRepository(db *gorm.DB) LegalChangeRepository {
	return &legalChangeRepository{db: db}
}

func (r *legalChangeRepository) Create(ctx context.Context, change *entity.LegalChange) error {
	return r.db.WithContext(ctx).Create(change).Error
}

func (r *legalChangeRepository) LatestByType(ctx context.Context, changeType string) (*entity.LegalChange, error) {
	var change entity.LegalChange
	err := r.db.WithContext(ctx).
		Where("change_type = ?", changeType).
		Order("created_at DESC").
		First(&change).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &change, err
}

func (r *legalChangeRepository) Latest(ctx context.Context) (*entity.LegalChange, error) {
	var change entity.LegalChange
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		First(&change).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &change, err
}

func (r *legalChangeRepository) List(ctx context.Context, limit int) ([]entity.LegalChange, error) {
	query := r.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var changes []entity.LegalChange
	if err := query.Find(&changes).Error; err != nil {
		return nil, err
	}
	return changes, nil
}
