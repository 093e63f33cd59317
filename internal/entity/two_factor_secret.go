package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TwoFactorSecret struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	AccountID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null"`
	Account   Account   `gorm:"constraint:OnDelete:CASCADE"`

	Secret      string `gorm:"type:text;not null"`
	ConfirmedAt *time.Time

	// BackupCodes holds only digests; plaintext is shown once at issuance.
	BackupCodes datatypes.JSONSlice[BackupCode]

	CreatedAt time.Time
}

type BackupCode struct {
	Digest string     `json:"digest"`
	UsedAt *time.Time `json:"used_at,omitempty"`
}

func (s *TwoFactorSecret) Enabled() bool {
	return s.ConfirmedAt != nil
}
