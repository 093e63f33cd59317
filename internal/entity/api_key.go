package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type APIKeyStatus string

const (
	APIKeyActive  APIKeyStatus = "active"
	APIKeyRotated APIKeyStatus = "rotated"
	APIKeyRevoked APIKeyStatus = "revoked"
	APIKeyExpired APIKeyStatus = "expired"
)

// APIKey is one generation of key material. Rotation inserts a fresh row
// under the same logical KeyID and flips the prior row to rotated; the
// rotated material keeps validating until GraceUntil.
type APIKey struct {
	ID    uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	KeyID uuid.UUID `gorm:"type:uuid;index;not null"`

	OwnerID uuid.UUID `gorm:"type:uuid;index;not null"`
	Owner   Account   `gorm:"foreignKey:OwnerID"`

	Name       string `gorm:"type:varchar(100);not null"`
	SecretHash string `gorm:"type:text;uniqueIndex;not null"`

	Scopes      datatypes.JSONSlice[string]
	IPAllowlist datatypes.JSONSlice[string]

	// RateLimit is the per-minute authorization ceiling; 0 means unlimited.
	RateLimit int `gorm:"default:0;not null"`

	Status     APIKeyStatus `gorm:"type:varchar(20);default:'active';not null"`
	ExpiresAt  time.Time
	GraceUntil *time.Time

	// Per-minute authorization window, maintained with conditional updates
	// so concurrent workers draw from a single budget.
	RateWindowStart *time.Time
	RateWindowCount int `gorm:"default:0;not null"`

	LastUsedAt *time.Time
	UsageCount int64 `gorm:"default:0;not null"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (k *APIKey) Expired(now time.Time) bool {
	return now.After(k.ExpiresAt)
}

func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

func (k *APIKey) AllowsIP(ip string) bool {
	if len(k.IPAllowlist) == 0 {
		return true
	}
	for _, allowed := range k.IPAllowlist {
		if allowed == ip {
			return true
		}
	}
	return false
}
