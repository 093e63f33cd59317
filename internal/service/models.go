package service

import (
	"time"

	"novacore/internal/entity"

	"github.com/google/uuid"
)

type RegisterInput struct {
	Username string
	Email    string
	Password string
	Consent  ConsentInput
}

type ConsentInput struct {
	Purpose   string
	Granted   bool
	Mechanism entity.ConsentMechanism
}

type VerifyInput struct {
	Username string
	Password string
	SourceIP *string
}

type VerifyResult struct {
	AccountID   uuid.UUID
	AccessToken string
	ExpiresIn   int64

	TwoFactorRequired  bool
	ChallengeToken     string
	ChallengeExpiresIn int64

	// ReconsentRequired flags accounts whose consent trails the latest
	// legal-text version.
	ReconsentRequired bool
}

type EnrollmentResult struct {
	Secret          string
	ProvisioningURI string
}

type ChallengeInput struct {
	ChallengeToken string
	Code           string
	SourceIP       *string
}

type CreateKeyInput struct {
	Owner       uuid.UUID
	Name        string
	Scopes      []string
	TTLDays     int
	RateLimit   int
	IPAllowlist []string
}

type CreateKeyResult struct {
	KeyID     uuid.UUID
	Plaintext string
	ExpiresAt time.Time
}

type AuthorizeInput struct {
	Secret        string
	RequiredScope string
	SourceIP      string
}

type AuthorizeResult struct {
	KeyID   uuid.UUID
	OwnerID uuid.UUID
	Scopes  []string
}

type RecordConsentInput struct {
	AccountID        uuid.UUID
	Purpose          string
	Granted          bool
	Mechanism        entity.ConsentMechanism
	LegalTextVersion string
}

type LegalChangeInput struct {
	ChangeType         string
	Title              string
	Description        string
	Jurisdiction       string
	Regulation         string
	ComplianceDeadline *time.Time
	CreatedBy          string
}

type RectificationInput struct {
	AccountID     uuid.UUID
	Username      string
	Email         string
	Justification string
}
