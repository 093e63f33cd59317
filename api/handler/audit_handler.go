package handler

import (
	"errors"
	"net/http"
	"time"

	"novacore/internal/dto"
	"novacore/internal/entity"
	"novacore/internal/repository"
	"novacore/internal/service"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type AuditHandler struct {
	Audit *service.AuditService
}

func NewAuditHandler(audit *service.AuditService) *AuditHandler {
	return &AuditHandler{Audit: audit}
}

// Query returns events in sequence order, filtered by the query parameters.
func (h *AuditHandler) Query(c echo.Context) error {
	limit, offset := parseLimitOffset(c)
	filter := repository.AuditFilter{
		Category: entity.AuditCategory(c.QueryParam("category")),
		Actor:    c.QueryParam("actor"),
		Action:   c.QueryParam("action"),
		Outcome:  entity.AuditOutcome(c.QueryParam("outcome")),
		Limit:    limit,
		Offset:   offset,
	}
	if from := c.QueryParam("from"); from != "" {
		parsed, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return writeError(c, http.StatusBadRequest, errors.New("invalid from timestamp"))
		}
		filter.From = &parsed
	}
	if to := c.QueryParam("to"); to != "" {
		parsed, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return writeError(c, http.StatusBadRequest, errors.New("invalid to timestamp"))
		}
		filter.To = &parsed
	}

	events, err := h.Audit.Query(c.Request().Context(), filter)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, dto.AuditEventResponsesFromEntities(events))
}

// Report aggregates the trail over a period; defaults to the last 30 days.
func (h *AuditHandler) Report(c echo.Context) error {
	to := time.Now()
	from := to.Add(-30 * 24 * time.Hour)
	if raw := c.QueryParam("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return writeError(c, http.StatusBadRequest, errors.New("invalid from timestamp"))
		}
		from = parsed
	}
	if raw := c.QueryParam("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return writeError(c, http.StatusBadRequest, errors.New("invalid to timestamp"))
		}
		to = parsed
	}
	if to.Before(from) {
		return writeError(c, http.StatusBadRequest, errors.New("to precedes from"))
	}

	report, err := h.Audit.GenerateComplianceReport(c.Request().Context(), from, to)
	if err != nil {
		return writeServiceError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *AuditHandler) GetEvent(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return writeError(c, http.StatusBadRequest, errors.New("invalid event id"))
	}
	event, err := h.Audit.GetEvent(c.Request().Context(), id)
	if err != nil {
		return writeServiceError(c, err)
	}
	if event == nil {
		return writeError(c, http.StatusNotFound, errors.New("event not found"))
	}
	return c.JSON(http.StatusOK, dto.AuditEventResponseFromEntity(event))
}
