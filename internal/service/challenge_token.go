package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ChallengeTokenIssuer binds the gap between password verification and the
// second factor: the token proves the password already checked out, nothing
// more.
type ChallengeTokenIssuer struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

type challengeClaims struct {
	AccountID string `json:"sub"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

func (m ChallengeTokenIssuer) Issue(accountID uuid.UUID) (string, time.Duration, error) {
	ttl := m.TTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	now := time.Now()
	claims := challengeClaims{
		AccountID: accountID.String(),
		Type:      "2fa",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.Issuer,
			Subject:   accountID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.Secret)
	if err != nil {
		return "", 0, err
	}
	return signed, ttl, nil
}

func (m ChallengeTokenIssuer) Parse(token string) (uuid.UUID, error) {
	parsed, err := jwt.ParseWithClaims(token, &challengeClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.Secret, nil
	})
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*challengeClaims)
	if !ok || !parsed.Valid || claims.Type != "2fa" {
		return uuid.Nil, ErrInvalidToken
	}
	id, err := uuid.Parse(claims.AccountID)
	if err != nil {
		return uuid.Nil, ErrInvalidToken
	}
	return id, nil
}
