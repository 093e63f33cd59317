package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"novacore/internal/service"

	"github.com/labstack/echo/v4"
)

func decodeJSON(c echo.Context, target any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeError(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"message": err.Error()})
}

func writeServiceError(c echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrUnsupportedFormat):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidToken),
		errors.Is(err, service.ErrTwoFactorInvalid),
		errors.Is(err, service.ErrTwoFactorCodeReused),
		errors.Is(err, service.ErrKeyExpired),
		errors.Is(err, service.ErrKeyRevoked):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrKeyScopeDenied),
		errors.Is(err, service.ErrKeyIPDenied),
		errors.Is(err, service.ErrLegalHoldBlocksErasure):
		status = http.StatusForbidden
	case errors.Is(err, service.ErrAccountNotFound),
		errors.Is(err, service.ErrKeyNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrRequestAlreadyProcessed):
		status = http.StatusConflict
	case errors.Is(err, service.ErrAccountLocked):
		status = http.StatusLocked
	case errors.Is(err, service.ErrKeyRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, service.ErrTwoFactorNotConfigured):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrPersistenceUnavailable):
		status = http.StatusServiceUnavailable
	}
	return writeError(c, status, err)
}

func parseLimitOffset(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
