package entity

import (
	"time"

	"github.com/google/uuid"
)

// LegalChange versions a change to the legal text subjects consent to.
// Accounts whose ConsentVersion trails the latest version are flagged for
// re-consent on their next authenticated action.
type LegalChange struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`

	ChangeType  string `gorm:"type:varchar(50);not null"`
	Title       string `gorm:"type:varchar(200);not null"`
	Description string `gorm:"type:text;not null"`

	Jurisdiction string `gorm:"type:varchar(50);default:'EU'"`
	Regulation   string `gorm:"type:varchar(50);default:'GDPR'"`

	Version           string     `gorm:"type:varchar(20);not null"`
	PreviousVersionID *uuid.UUID `gorm:"type:uuid"`

	ComplianceDeadline *time.Time

	CreatedBy string `gorm:"type:varchar(100)"`
	CreatedAt time.Time
}
