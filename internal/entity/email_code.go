package entity

import (
	"time"

	"github.com/google/uuid"
)

// EmailCode is a one-time code delivered by email as a 2FA fallback.
// Only the digest is stored; the plaintext goes out in the message.
type EmailCode struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;index;not null"`
	Account   Account   `gorm:"constraint:OnDelete:CASCADE"`

	CodeHash string `gorm:"type:text;not null;index"`

	ExpiresAt time.Time
	UsedAt    *time.Time
	Attempts  int `gorm:"default:0;not null"`

	CreatedAt time.Time
}
