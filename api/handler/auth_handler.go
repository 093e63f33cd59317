package handler

import (
	"errors"
	"net/http"

	"novacore/api/middleware"
	"novacore/internal/dto"
	"novacore/internal/entity"
	"novacore/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type AuthHandler struct {
	Credentials *service.CredentialService
	TwoFactor   *service.TwoFactorService
	Validate    *validator.Validate
}

func NewAuthHandler(credentials *service.CredentialService, twoFactor *service.TwoFactorService, validate *validator.Validate) *AuthHandler {
	return &AuthHandler{
		Credentials: credentials,
		TwoFactor:   twoFactor,
		Validate:    validate,
	}
}

func (h *AuthHandler) Register(c echo.Context) error {
	var req dto.RegisterRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	mechanism := entity.ConsentMechanism(req.ConsentMechanism)
	if mechanism == "" {
		mechanism = entity.ConsentExplicit
	}
	account, err := h.Credentials.Register(c.Request().Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Consent: service.ConsentInput{
			Purpose:   req.ConsentPurpose,
			Granted:   req.ConsentGranted,
			Mechanism: mechanism,
		},
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.AccountResponseFromEntity(account))
}

func (h *AuthHandler) Login(c echo.Context) error {
	var req dto.LoginRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	result, err := h.Credentials.Verify(c.Request().Context(), service.VerifyInput{
		Username: req.Username,
		Password: req.Password,
		SourceIP: stringPtr(c.RealIP()),
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, mapLoginResponse(result))
}

func (h *AuthHandler) LoginChallenge(c echo.Context) error {
	var req dto.LoginChallengeRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	accountID, err := h.TwoFactor.VerifyChallenge(c.Request().Context(), service.ChallengeInput{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		SourceIP:       stringPtr(c.RealIP()),
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	result, err := h.Credentials.IssueSession(c.Request().Context(), accountID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, mapLoginResponse(result))
}

func (h *AuthHandler) EnrollTwoFactor(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	result, err := h.TwoFactor.BeginEnrollment(c.Request().Context(), accountID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.TwoFactorEnrollResponse{
		Secret:          result.Secret,
		ProvisioningURI: result.ProvisioningURI,
	})
}

func (h *AuthHandler) ConfirmTwoFactor(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.TwoFactorConfirmRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	backupCodes, err := h.TwoFactor.ConfirmEnrollment(c.Request().Context(), accountID, req.Code)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.TwoFactorConfirmResponse{BackupCodes: backupCodes})
}

func (h *AuthHandler) DisableTwoFactor(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.TwoFactorCodeRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.TwoFactor.Disable(c.Request().Context(), accountID, req.Code); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) RegenerateBackupCodes(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.TwoFactorCodeRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	backupCodes, err := h.TwoFactor.RegenerateBackupCodes(c.Request().Context(), accountID, req.Code)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.TwoFactorConfirmResponse{BackupCodes: backupCodes})
}

func (h *AuthHandler) SendEmailCode(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	if err := h.TwoFactor.SendEmailCode(c.Request().Context(), accountID); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *AuthHandler) Me(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	account, err := h.Credentials.GetAccount(c.Request().Context(), accountID)
	if err != nil {
		return writeServiceError(c, err)
	}
	if account == nil {
		return writeError(c, http.StatusNotFound, errors.New("account not found"))
	}
	return c.JSON(http.StatusOK, dto.AccountResponseFromEntity(account))
}

func (h *AuthHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(payload)
}

func mapLoginResponse(result *service.VerifyResult) dto.LoginResponse {
	return dto.LoginResponse{
		AccessToken:        result.AccessToken,
		ExpiresIn:          result.ExpiresIn,
		TwoFactorRequired:  result.TwoFactorRequired,
		ChallengeToken:     result.ChallengeToken,
		ChallengeExpiresIn: result.ChallengeExpiresIn,
		ReconsentRequired:  result.ReconsentRequired,
	}
}
