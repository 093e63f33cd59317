package handler

import (
	"errors"
	"net/http"

	"novacore/api/middleware"
	"novacore/internal/dto"
	"novacore/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type APIKeyHandler struct {
	Keys     *service.APIKeyService
	Validate *validator.Validate
}

func NewAPIKeyHandler(keys *service.APIKeyService, validate *validator.Validate) *APIKeyHandler {
	return &APIKeyHandler{Keys: keys, Validate: validate}
}

func (h *APIKeyHandler) Create(c echo.Context) error {
	ownerID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.CreateKeyRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Keys.Create(c.Request().Context(), service.CreateKeyInput{
		Owner:       ownerID,
		Name:        req.Name,
		Scopes:      req.Scopes,
		TTLDays:     req.TTLDays,
		RateLimit:   req.RateLimit,
		IPAllowlist: req.IPAllowlist,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.CreateKeyResponse{
		KeyID:     result.KeyID.String(),
		Secret:    result.Plaintext,
		ExpiresAt: result.ExpiresAt,
	})
}

func (h *APIKeyHandler) List(c echo.Context) error {
	ownerID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	includeInactive := c.QueryParam("include_inactive") == "true"
	keys, err := h.Keys.List(c.Request().Context(), ownerID, includeInactive)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.KeyResponsesFromEntities(keys))
}

func (h *APIKeyHandler) Stats(c echo.Context) error {
	ownerID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	stats, err := h.Keys.Stats(c.Request().Context(), ownerID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (h *APIKeyHandler) Rotate(c echo.Context) error {
	ownerID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid key id"))
	}
	result, err := h.Keys.Rotate(c.Request().Context(), ownerID, keyID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.CreateKeyResponse{
		KeyID:     result.KeyID.String(),
		Secret:    result.Plaintext,
		ExpiresAt: result.ExpiresAt,
	})
}

func (h *APIKeyHandler) Revoke(c echo.Context) error {
	ownerID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	keyID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid key id"))
	}
	if err := h.Keys.Revoke(c.Request().Context(), ownerID, keyID); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Authorize lets callers check a key without hitting a protected resource.
func (h *APIKeyHandler) Authorize(c echo.Context) error {
	var req dto.AuthorizeKeyRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Keys.Authorize(c.Request().Context(), service.AuthorizeInput{
		Secret:        req.Secret,
		RequiredScope: req.RequiredScope,
		SourceIP:      c.RealIP(),
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.AuthorizeKeyResponse{
		KeyID:   result.KeyID.String(),
		OwnerID: result.OwnerID.String(),
		Scopes:  result.Scopes,
	})
}

func (h *APIKeyHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(payload)
}
