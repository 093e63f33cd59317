package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type SubjectRequestType string

const (
	RequestAccess        SubjectRequestType = "access"
	RequestRectification SubjectRequestType = "rectification"
	RequestErasure       SubjectRequestType = "erasure"
	RequestPortability   SubjectRequestType = "portability"
)

type SubjectRequestStatus string

const (
	RequestPending    SubjectRequestStatus = "pending"
	RequestProcessing SubjectRequestStatus = "processing"
	RequestCompleted  SubjectRequestStatus = "completed"
	RequestRejected   SubjectRequestStatus = "rejected"
)

type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

type SubjectRequest struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;index;not null"`
	Account   Account   `gorm:"constraint:OnDelete:CASCADE"`

	Type   SubjectRequestType   `gorm:"type:varchar(20);not null"`
	Status SubjectRequestStatus `gorm:"type:varchar(20);default:'pending';not null"`

	RequestedAt time.Time `gorm:"not null"`

	// ScheduledAt defers execution; erasure gets a grace period during which
	// the subject can still cancel.
	ScheduledAt *time.Time `gorm:"index"`
	ProcessedAt *time.Time

	Format   ExportFormat `gorm:"type:varchar(10)"`
	Artifact datatypes.JSON

	Notes string `gorm:"type:text"`
}
