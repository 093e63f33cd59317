package handler

import (
	"errors"
	"net/http"

	"novacore/api/middleware"
	"novacore/internal/dto"
	"novacore/internal/entity"
	"novacore/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type ComplianceHandler struct {
	Compliance *service.ComplianceService
	Validate   *validator.Validate
}

func NewComplianceHandler(compliance *service.ComplianceService, validate *validator.Validate) *ComplianceHandler {
	return &ComplianceHandler{Compliance: compliance, Validate: validate}
}

func (h *ComplianceHandler) RecordConsent(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.ConsentRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	mechanism := entity.ConsentMechanism(req.Mechanism)
	if mechanism == "" {
		mechanism = entity.ConsentExplicit
	}
	record, err := h.Compliance.RecordConsent(c.Request().Context(), service.RecordConsentInput{
		AccountID: accountID,
		Purpose:   req.Purpose,
		Granted:   req.Granted,
		Mechanism: mechanism,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.ConsentResponse{
		Purpose:          record.Purpose,
		Granted:          record.Granted,
		Mechanism:        string(record.Mechanism),
		LegalTextVersion: record.LegalTextVersion,
		RecordedAt:       record.CreatedAt,
	})
}

func (h *ComplianceHandler) ConsentHistory(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	records, err := h.Compliance.ConsentHistory(c.Request().Context(), accountID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.ConsentResponsesFromEntities(records))
}

func (h *ComplianceHandler) FileAccessRequest(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	request, err := h.Compliance.FileAccessRequest(c.Request().Context(), accountID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.SubjectRequestResponseFromEntity(request))
}

func (h *ComplianceHandler) FilePortabilityRequest(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.PortabilityRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	request, err := h.Compliance.FilePortabilityRequest(c.Request().Context(), accountID, entity.ExportFormat(req.Format))
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.SubjectRequestResponseFromEntity(request))
}

func (h *ComplianceHandler) FileErasureRequest(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.ErasureRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	request, err := h.Compliance.FileErasureRequest(c.Request().Context(), accountID, req.Immediate)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.SubjectRequestResponseFromEntity(request))
}

func (h *ComplianceHandler) CancelErasure(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid request id"))
	}
	if err := h.Compliance.CancelErasure(c.Request().Context(), accountID, requestID); err != nil {
		return writeServiceError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *ComplianceHandler) FileRectificationRequest(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	var req dto.RectificationRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	request, err := h.Compliance.FileRectificationRequest(c.Request().Context(), service.RectificationInput{
		AccountID:     accountID,
		Username:      req.Username,
		Email:         req.Email,
		Justification: req.Justification,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.SubjectRequestResponseFromEntity(request))
}

func (h *ComplianceHandler) GetRequest(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	requestID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid request id"))
	}
	request, err := h.Compliance.GetRequest(c.Request().Context(), accountID, requestID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.SubjectRequestResponseFromEntity(request))
}

func (h *ComplianceHandler) ListRequests(c echo.Context) error {
	accountID, ok := middleware.AccountIDFromContext(c)
	if !ok {
		return writeError(c, http.StatusUnauthorized, errors.New("unauthorized"))
	}
	requests, err := h.Compliance.ListRequests(c.Request().Context(), accountID)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.SubjectRequestResponsesFromEntities(requests))
}

func (h *ComplianceHandler) RegisterLegalChange(c echo.Context) error {
	var req dto.LegalChangeRequest
	if err := decodeJSON(c, &req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	if err := h.validate(req); err != nil {
		return writeError(c, http.StatusBadRequest, err)
	}
	createdBy := ""
	if username, ok := middleware.UsernameFromContext(c); ok {
		createdBy = username
	}
	change, err := h.Compliance.RegisterLegalChange(c.Request().Context(), service.LegalChangeInput{
		ChangeType:         req.ChangeType,
		Title:              req.Title,
		Description:        req.Description,
		Jurisdiction:       req.Jurisdiction,
		Regulation:         req.Regulation,
		ComplianceDeadline: req.ComplianceDeadline,
		CreatedBy:          createdBy,
	})
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusCreated, dto.LegalChangeResponseFromEntity(change))
}

func (h *ComplianceHandler) ListLegalChanges(c echo.Context) error {
	limit, _ := parseLimitOffset(c)
	changes, err := h.Compliance.ListLegalChanges(c.Request().Context(), limit)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.LegalChangeResponsesFromEntities(changes))
}

// Dashboard is the operator view of the request workload; gated by key
// scope, not a user session.
func (h *ComplianceHandler) Dashboard(c echo.Context) error {
	dashboard, err := h.Compliance.Dashboard(c.Request().Context())
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dashboard)
}

func (h *ComplianceHandler) validate(payload any) error {
	if h.Validate == nil {
		return nil
	}
	return h.Validate.Struct(payload)
}
