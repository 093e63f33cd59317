package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// EmailSender is the delivery collaborator. Failures never roll back the
// state transition that triggered the message.
type EmailSender interface {
	Send(ctx context.Context, to string, templateID string, params map[string]string) error
}

type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash string, password string) bool
}

type TOTPProvider interface {
	GenerateSecret(account string) (string, error)
	ProvisioningURI(account string, secret string) (string, error)
	ValidateCode(secret string, code string, at time.Time) bool
}

type AccessTokenIssuer interface {
	Issue(accountID string, username string) (string, time.Duration, error)
}

// ChallengeIssuer carries a verified password across the 2FA gap.
type ChallengeIssuer interface {
	Issue(accountID uuid.UUID) (string, time.Duration, error)
	Parse(token string) (uuid.UUID, error)
}

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

type BcryptPasswordHasher struct {
	Cost int
}

func (h BcryptPasswordHasher) Hash(password string) (string, error) {
	cost := h.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func (h BcryptPasswordHasher) Verify(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
