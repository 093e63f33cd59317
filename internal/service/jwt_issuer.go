package service

import (
	"time"

	"novacore/internal/utils"
)

type JWTAccessIssuer struct {
	Manager *utils.JWTManager
}

func (j JWTAccessIssuer) Issue(accountID string, username string) (string, time.Duration, error) {
	if j.Manager == nil {
		return "", 0, ErrInvalidToken
	}
	return j.Manager.IssueAccessToken(accountID, username)
}
