package repository

import (
	"context"
	"errors"
	"time"

	"novacore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type APIKeyRepository interface {
	Create(ctx context.Context, key *entity.APIKey) error
	FindBySecretHash(ctx context.Context, digest string) (*entity.APIKey, error)
	FindActiveByKeyID(ctx context.Context, keyID uuid.UUID) (*entity.APIKey, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, includeInactive bool) ([]entity.APIKey, error)
	ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]entity.APIKey, error)

	// TransitionStatus flips the material's status only when it still has the
	// expected one, so re-running a sweep never duplicates a transition.
	TransitionStatus(ctx context.Context, id uuid.UUID, from entity.APIKeyStatus, to entity.APIKeyStatus) (bool, error)

	// Rotate inserts the replacement material and marks the old one rotated
	// with a grace deadline, in one transaction.
	Rotate(ctx context.Context, old *entity.APIKey, replacement *entity.APIKey, graceUntil time.Time) error

	// RevokeByKeyID ends every still-usable material row of the logical key,
	// including rotated material inside its grace window.
	RevokeByKeyID(ctx context.Context, keyID uuid.UUID) (int64, error)

	// ConsumeRateSlot takes one authorization slot from the key's current
	// rate window, rolling the window over when it has elapsed. The budget
	// lives on the row, so every worker process draws from the same count.
	ConsumeRateSlot(ctx context.Context, id uuid.UUID, windowStart time.Time, limit int) (bool, error)

	FindExpiredCandidates(ctx context.Context, now time.Time) ([]entity.APIKey, error)
	RecordUsage(ctx context.Context, id uuid.UUID, now time.Time) error
}

type apiKeyRepository struct {
	db *gorm.DB
}

func NewAPIKeyRepository(db *gorm.DB) APIKeyRepository {
	return &apiKeyRepository{db: db}
}

func (r *apiKeyRepository) Create(ctx context.Context, key *entity.APIKey) error {
	return r.db.WithContext(ctx).Create(key).Error
}

func (r *apiKeyRepository) FindBySecretHash(ctx context.Context, digest string) (*entity.APIKey, error) {
	var key entity.APIKey
	err := r.db.WithContext(ctx).
		Where("secret_hash = ?", digest).
		First(&key).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &key, err
}

func (r *apiKeyRepository) FindActiveByKeyID(ctx context.Context, keyID uuid.UUID) (*entity.APIKey, error) {
	var key entity.APIKey
	err := r.db.WithContext(ctx).
		Where("key_id = ? AND status = ?", keyID, entity.APIKeyActive).
		First(&key).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &key, err
}

func (r *apiKeyRepository) ListByOwner(ctx context.Context, ownerID uuid.UUID, includeInactive bool) ([]entity.APIKey, error) {
	query := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC")
	if !includeInactive {
		query = query.Where("status IN ?", []entity.APIKeyStatus{entity.APIKeyActive, entity.APIKeyRotated})
	}
	var keys []entity.APIKey
	if err := query.Find(&keys).Error; err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *apiKeyRepository) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]entity.APIKey, error) {
	var keys []entity.APIKey
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND status IN ?", ownerID,
			[]entity.APIKeyStatus{entity.APIKeyActive, entity.APIKeyRotated}).
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *apiKeyRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from entity.APIKeyStatus, to entity.APIKeyStatus) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.APIKey{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	return result.RowsAffected > 0, result.Error
}

func (r *apiKeyRepository) Rotate(ctx context.Context, old *entity.APIKey, replacement *entity.APIKey, graceUntil time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&entity.APIKey{}).
			Where("id = ? AND status = ?", old.ID, entity.APIKeyActive).
			Updates(map[string]any{
				"status":      entity.APIKeyRotated,
				"grace_until": graceUntil,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.Create(replacement).Error
	})
}

func (r *apiKeyRepository) RevokeByKeyID(ctx context.Context, keyID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.APIKey{}).
		Where("key_id = ? AND status IN ?",
			keyID, []entity.APIKeyStatus{entity.APIKeyActive, entity.APIKeyRotated}).
		Update("status", entity.APIKeyRevoked)
	return result.RowsAffected, result.Error
}

func (r *apiKeyRepository) ConsumeRateSlot(ctx context.Context, id uuid.UUID, windowStart time.Time, limit int) (bool, error) {
	// Same window, under the ceiling.
	result := r.db.WithContext(ctx).
		Model(&entity.APIKey{}).
		Where("id = ? AND rate_window_start = ? AND rate_window_count < ?", id, windowStart, limit).
		Update("rate_window_count", gorm.Expr("rate_window_count + 1"))
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// The window rolled over; the conditional start guard lets exactly one
	// of the racing workers reset it.
	result = r.db.WithContext(ctx).
		Model(&entity.APIKey{}).
		Where("id = ? AND (rate_window_start IS NULL OR rate_window_start < ?)", id, windowStart).
		Updates(map[string]any{
			"rate_window_start": windowStart,
			"rate_window_count": 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected > 0 {
		return true, nil
	}

	// Lost the reset race; count in the window the winner installed.
	result = r.db.WithContext(ctx).
		Model(&entity.APIKey{}).
		Where("id = ? AND rate_window_start = ? AND rate_window_count < ?", id, windowStart, limit).
		Update("rate_window_count", gorm.Expr("rate_window_count + 1"))
	return result.RowsAffected > 0, result.Error
}

func (r *apiKeyRepository) FindExpiredCandidates(ctx context.Context, now time.Time) ([]entity.APIKey, error) {
	var keys []entity.APIKey
	err := r.db.WithContext(ctx).
		Where("(status IN ? AND expires_at <= ?) OR (status = ? AND grace_until <= ?)",
			[]entity.APIKeyStatus{entity.APIKeyActive, entity.APIKeyRotated}, now,
			entity.APIKeyRotated, now).
		Find(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (r *apiKeyRepository) RecordUsage(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&entity.APIKey{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"usage_count":  gorm.Expr("usage_count + 1"),
			"last_used_at": now,
		}).Error
}
