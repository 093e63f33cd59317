package repository

import (
	"context"
	"errors"
	"time"

	"novacore/internal/entity"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type SubjectRequestRepository interface {
	Create(ctx context.Context, request *entity.SubjectRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.SubjectRequest, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]entity.SubjectRequest, error)

	// TransitionStatus is the only way a request changes state; the expected
	// current status makes re-processing after a crash a no-op.
	TransitionStatus(ctx context.Context, id uuid.UUID, from entity.SubjectRequestStatus, to entity.SubjectRequestStatus, processedAt *time.Time) (bool, error)

	SetArtifact(ctx context.Context, id uuid.UUID, artifact datatypes.JSON) error
	SetNotes(ctx context.Context, id uuid.UUID, notes string) error

	// FindDue returns pending requests whose scheduled execution time has
	// passed (deferred erasures, mostly).
	FindDue(ctx context.Context, now time.Time) ([]entity.SubjectRequest, error)

	// CountByTypeAndStatus returns request totals grouped both ways, for
	// the compliance dashboard.
	CountByTypeAndStatus(ctx context.Context) (map[entity.SubjectRequestType]int64, map[entity.SubjectRequestStatus]int64, error)
}

type subjectRequestRepository struct {
	db *gorm.DB
}

func NewSubjectRequestRepository(db *gorm.DB) SubjectRequestRepository {
	return &subjectRequestRepository{db: db}
}

func (r *subjectRequestRepository) Create(ctx context.Context, request *entity.SubjectRequest) error {
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *subjectRequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.SubjectRequest, error) {
	var request entity.SubjectRequest
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&request).Error

	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return &request, err
}

func (r *subjectRequestRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]entity.SubjectRequest, error) {
	var requests []entity.SubjectRequest
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("requested_at DESC").
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *subjectRequestRepository) TransitionStatus(ctx context.Context, id uuid.UUID, from entity.SubjectRequestStatus, to entity.SubjectRequestStatus, processedAt *time.Time) (bool, error) {
	updates := map[string]any{"status": to}
	if processedAt != nil {
		updates["processed_at"] = *processedAt
	}
	result := r.db.WithContext(ctx).
		Model(&entity.SubjectRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

func (r *subjectRequestRepository) SetArtifact(ctx context.Context, id uuid.UUID, artifact datatypes.JSON) error {
	return r.db.WithContext(ctx).
		Model(&entity.SubjectRequest{}).
		Where("id = ?", id).
		Update("artifact", artifact).
		Error
}

func (r *subjectRequestRepository) SetNotes(ctx context.Context, id uuid.UUID, notes string) error {
	return r.db.WithContext(ctx).
		Model(&entity.SubjectRequest{}).
		Where("id = ?", id).
		Update("notes", notes).
		Error
}

func (r *subjectRequestRepository) CountByTypeAndStatus(ctx context.Context) (map[entity.SubjectRequestType]int64, map[entity.SubjectRequestStatus]int64, error) {
	var rows []struct {
		Type   entity.SubjectRequestType
		Status entity.SubjectRequestStatus
		N      int64
	}
	err := r.db.WithContext(ctx).
		Model(&entity.SubjectRequest{}).
		Select("type, status, count(*) AS n").
		Group("type, status").
		Scan(&rows).Error
	if err != nil {
		return nil, nil, err
	}

	byType := make(map[entity.SubjectRequestType]int64)
	byStatus := make(map[entity.SubjectRequestStatus]int64)
	for _, row := range rows {
		byType[row.Type] += row.N
		byStatus[row.Status] += row.N
	}
	return byType, byStatus, nil
}

func (r *subjectRequestRepository) FindDue(ctx context.Context, now time.Time) ([]entity.SubjectRequest, error) {
	var requests []entity.SubjectRequest
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?",
			entity.RequestPending, now).
		Find(&requests).Error
	if err != nil {
		return nil, err
	}
	return requests, nil
}
