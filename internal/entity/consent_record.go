package entity

import (
	"time"

	"github.com/google/uuid"
)

type ConsentMechanism string

const (
	ConsentExplicit ConsentMechanism = "explicit"
	ConsentImplicit ConsentMechanism = "implicit"
)

// ConsentRecord rows are append-only history; a change of mind or a new
// legal-text version appends, never overwrites.
type ConsentRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;index;not null"`
	Account   Account   `gorm:"constraint:OnDelete:CASCADE"`

	Purpose   string           `gorm:"type:varchar(50);not null"`
	Granted   bool             `gorm:"not null"`
	Mechanism ConsentMechanism `gorm:"type:varchar(20);not null"`

	LegalTextVersion string `gorm:"type:varchar(20);not null"`

	CreatedAt time.Time
}
