package dto

import (
	"time"

	"novacore/internal/entity"
)

type RegisterRequest struct {
	Username         string `json:"username" validate:"required,min=3,max=50"`
	Email            string `json:"email" validate:"required,email"`
	Password         string `json:"password" validate:"required,min=8"`
	ConsentPurpose   string `json:"consent_purpose" validate:"required"`
	ConsentGranted   bool   `json:"consent_granted"`
	ConsentMechanism string `json:"consent_mechanism" validate:"omitempty,oneof=explicit implicit"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginChallengeRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token,omitempty"`
	ExpiresIn   int64  `json:"expires_in,omitempty"`

	TwoFactorRequired  bool   `json:"two_factor_required,omitempty"`
	ChallengeToken     string `json:"challenge_token,omitempty"`
	ChallengeExpiresIn int64  `json:"challenge_expires_in,omitempty"`

	ReconsentRequired bool `json:"reconsent_required,omitempty"`
}

type TwoFactorEnrollResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
}

type TwoFactorConfirmRequest struct {
	Code string `json:"code" validate:"required"`
}

type TwoFactorConfirmResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

type TwoFactorCodeRequest struct {
	Code string `json:"code" validate:"required"`
}

type AccountResponse struct {
	ID              string     `json:"id"`
	Username        string     `json:"username"`
	Email           string     `json:"email"`
	TwoFactorStatus string     `json:"two_factor_status"`
	ConsentVersion  string     `json:"consent_version,omitempty"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func AccountResponseFromEntity(account *entity.Account) AccountResponse {
	return AccountResponse{
		ID:              account.ID.String(),
		Username:        account.Username,
		Email:           account.Email,
		TwoFactorStatus: string(account.TwoFactorStatus),
		ConsentVersion:  account.ConsentVersion,
		LastLoginAt:     account.LastLoginAt,
		CreatedAt:       account.CreatedAt,
	}
}
