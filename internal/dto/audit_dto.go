package dto

import (
	"encoding/json"
	"time"

	"novacore/internal/entity"
)

type AuditEventResponse struct {
	ID        string          `json:"id"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Category  string          `json:"category"`
	Actor     string          `json:"actor"`
	Action    string          `json:"action"`
	Outcome   string          `json:"outcome"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

func AuditEventResponseFromEntity(event *entity.AuditEvent) AuditEventResponse {
	return AuditEventResponse{
		ID:        event.ID.String(),
		Seq:       event.Seq,
		Timestamp: event.Timestamp,
		Category:  string(event.Category),
		Actor:     event.Actor,
		Action:    event.Action,
		Outcome:   string(event.Outcome),
		Metadata:  json.RawMessage(event.Metadata),
	}
}

func AuditEventResponsesFromEntities(events []entity.AuditEvent) []AuditEventResponse {
	responses := make([]AuditEventResponse, 0, len(events))
	for i := range events {
		responses = append(responses, AuditEventResponseFromEntity(&events[i]))
	}
	return responses
}
