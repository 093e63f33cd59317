package entity

import (
	"time"

	"github.com/google/uuid"
)

type TwoFactorStatus string

const (
	TwoFactorDisabled TwoFactorStatus = "disabled"
	TwoFactorPending  TwoFactorStatus = "pending"
	TwoFactorEnabled  TwoFactorStatus = "enabled"
)

type Account struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Username     string    `gorm:"type:varchar(80);uniqueIndex;not null"`
	Email        string    `gorm:"type:varchar(255);uniqueIndex;not null"`
	PasswordHash *string   `gorm:"type:text"`

	TwoFactorStatus TwoFactorStatus `gorm:"type:varchar(20);default:'disabled';not null"`

	FailedAttempts int `gorm:"default:0;not null"`
	LockedUntil    *time.Time
	LastLoginAt    *time.Time

	// ConsentVersion is the legal-text version the subject last consented to.
	// Compared against the latest LegalChange version to flag re-consent.
	ConsentVersion string `gorm:"type:varchar(20)"`

	// LegalHold blocks erasure while set; requests are rejected, not queued.
	LegalHold bool `gorm:"default:false;not null"`

	// Anonymized marks the erasure tombstone. The row survives, the person
	// does not.
	Anonymized bool `gorm:"default:false;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time

	TwoFactorSecret *TwoFactorSecret
	APIKeys         []APIKey `gorm:"foreignKey:OwnerID"`
}

func (a *Account) IsLocked(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}
