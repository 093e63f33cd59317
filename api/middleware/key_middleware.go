package middleware

import (
	"errors"
	"net/http"

	"novacore/internal/service"

	"github.com/labstack/echo/v4"
)

// KeyHeader carries the plaintext API key secret on service-to-service
// calls.
const KeyHeader = "X-API-Key"

type KeyMiddleware struct {
	Keys *service.APIKeyService
}

// RequireScope authorizes the presented key against every lifecycle,
// scope, IP and rate check before the handler runs.
func (m KeyMiddleware) RequireScope(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			secret := c.Request().Header.Get(KeyHeader)
			if secret == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing api key")
			}
			result, err := m.Keys.Authorize(c.Request().Context(), service.AuthorizeInput{
				Secret:        secret,
				RequiredScope: scope,
				SourceIP:      c.RealIP(),
			})
			if err != nil {
				return keyAuthError(err)
			}
			SetKeyScopes(c, result.Scopes)
			return next(c)
		}
	}
}

func keyAuthError(err error) *echo.HTTPError {
	switch {
	case errors.Is(err, service.ErrKeyScopeDenied), errors.Is(err, service.ErrKeyIPDenied):
		return echo.NewHTTPError(http.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrKeyRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
	default:
		return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
}
