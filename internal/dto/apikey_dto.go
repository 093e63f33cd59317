package dto

import (
	"time"

	"novacore/internal/entity"
)

type CreateKeyRequest struct {
	Name        string   `json:"name" validate:"required,max=100"`
	Scopes      []string `json:"scopes" validate:"required,min=1,dive,required"`
	TTLDays     int      `json:"ttl_days" validate:"omitempty,min=1,max=365"`
	RateLimit   int      `json:"rate_limit" validate:"omitempty,min=0"`
	IPAllowlist []string `json:"ip_allowlist" validate:"omitempty,dive,required"`
}

type CreateKeyResponse struct {
	KeyID string `json:"key_id"`

	// Secret is shown exactly once; only its digest is stored.
	Secret    string    `json:"secret"`
	ExpiresAt time.Time `json:"expires_at"`
}

type KeyResponse struct {
	KeyID      string     `json:"key_id"`
	Name       string     `json:"name"`
	Status     string     `json:"status"`
	Scopes     []string   `json:"scopes"`
	RateLimit  int        `json:"rate_limit,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	GraceUntil *time.Time `json:"grace_until,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	UsageCount int64      `json:"usage_count"`
	CreatedAt  time.Time  `json:"created_at"`
}

func KeyResponseFromEntity(key *entity.APIKey) KeyResponse {
	return KeyResponse{
		KeyID:      key.KeyID.String(),
		Name:       key.Name,
		Status:     string(key.Status),
		Scopes:     key.Scopes,
		RateLimit:  key.RateLimit,
		ExpiresAt:  key.ExpiresAt,
		GraceUntil: key.GraceUntil,
		LastUsedAt: key.LastUsedAt,
		UsageCount: key.UsageCount,
		CreatedAt:  key.CreatedAt,
	}
}

func KeyResponsesFromEntities(keys []entity.APIKey) []KeyResponse {
	responses := make([]KeyResponse, 0, len(keys))
	for i := range keys {
		responses = append(responses, KeyResponseFromEntity(&keys[i]))
	}
	return responses
}

type AuthorizeKeyRequest struct {
	Secret        string `json:"secret" validate:"required"`
	RequiredScope string `json:"required_scope" validate:"omitempty"`
}

type AuthorizeKeyResponse struct {
	KeyID   string   `json:"key_id"`
	OwnerID string   `json:"owner_id"`
	Scopes  []string `json:"scopes"`
}
