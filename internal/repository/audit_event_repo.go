package repository

import (
	"context"
	"errors"
	"time"

	"novacore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuditFilter narrows a query; zero values mean "any".
type AuditFilter struct {
	Category entity.AuditCategory
	Actor    string
	Action   string
	Outcome  entity.AuditOutcome
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

// AuditEventRepository deliberately exposes no per-event update or delete.
// DeleteExpired is the retention sweep; PseudonymizeActor is the erasure
// rewrite. Nothing else ever touches a written row.
type AuditEventRepository interface {
	Append(ctx context.Context, event *entity.AuditEvent) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.AuditEvent, error)
	Query(ctx context.Context, filter AuditFilter) ([]entity.AuditEvent, error)
	CountByActor(ctx context.Context, actor string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	PseudonymizeActor(ctx context.Context, actor string, token string) (int64, error)
}

type auditEventRepository struct {
	db *gorm.DB
}

func NewAuditEventRepository(db *gorm.DB) AuditEventRepository {
	return &auditEventRepository{db: db}
}

func (r *auditEventRepository) Append(ctx context.Context, event *entity.AuditEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *auditEventRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.AuditEvent, error) {
	var event entity.AuditEvent
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&event).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &event, err
}

func (r *auditEventRepository) Query(ctx context.Context, filter AuditFilter) ([]entity.AuditEvent, error) {
	query := r.db.WithContext(ctx).Model(&entity.AuditEvent{})

	if filter.Category != "" {
		query = query.Where("category = ?", filter.Category)
	}
	if filter.Actor != "" {
		query = query.Where("actor = ?", filter.Actor)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Outcome != "" {
		query = query.Where("outcome = ?", filter.Outcome)
	}
	if filter.From != nil {
		query = query.Where("timestamp >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("timestamp <= ?", *filter.To)
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []entity.AuditEvent
	if err := query.Order("seq ASC").Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (r *auditEventRepository) CountByActor(ctx context.Context, actor string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&entity.AuditEvent{}).
		Where("actor = ?", actor).
		Count(&count).Error
	return count, err
}

func (r *auditEventRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("retain_until < ?", now).
		Delete(&entity.AuditEvent{})
	return result.RowsAffected, result.Error
}

func (r *auditEventRepository) PseudonymizeActor(ctx context.Context, actor string, token string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&entity.AuditEvent{}).
		Where("actor = ?", actor).
		Update("actor", token)
	return result.RowsAffected, result.Error
}
