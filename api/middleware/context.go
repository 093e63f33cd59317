package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	contextAccountIDKey = "auth_account_id"
	contextUsernameKey  = "auth_username"
	contextKeyScopesKey = "auth_key_scopes"
)

func SetAuthContext(c echo.Context, accountID uuid.UUID, username string) {
	c.Set(contextAccountIDKey, accountID)
	c.Set(contextUsernameKey, username)
}

func AccountIDFromContext(c echo.Context) (uuid.UUID, bool) {
	value := c.Get(contextAccountIDKey)
	accountID, ok := value.(uuid.UUID)
	return accountID, ok
}

func UsernameFromContext(c echo.Context) (string, bool) {
	value := c.Get(contextUsernameKey)
	username, ok := value.(string)
	return username, ok
}

func SetKeyScopes(c echo.Context, scopes []string) {
	c.Set(contextKeyScopesKey, scopes)
}

func KeyScopesFromContext(c echo.Context) ([]string, bool) {
	value := c.Get(contextKeyScopesKey)
	scopes, ok := value.([]string)
	return scopes, ok
}
