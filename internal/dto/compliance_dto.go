package dto

import (
	"encoding/json"
	"time"

	"novacore/internal/entity"
)

type ConsentRequest struct {
	Purpose   string `json:"purpose" validate:"required,max=50"`
	Granted   bool   `json:"granted"`
	Mechanism string `json:"mechanism" validate:"omitempty,oneof=explicit implicit"`
}

type ConsentResponse struct {
	Purpose          string    `json:"purpose"`
	Granted          bool      `json:"granted"`
	Mechanism        string    `json:"mechanism"`
	LegalTextVersion string    `json:"legal_text_version"`
	RecordedAt       time.Time `json:"recorded_at"`
}

func ConsentResponsesFromEntities(records []entity.ConsentRecord) []ConsentResponse {
	responses := make([]ConsentResponse, 0, len(records))
	for _, r := range records {
		responses = append(responses, ConsentResponse{
			Purpose:          r.Purpose,
			Granted:          r.Granted,
			Mechanism:        string(r.Mechanism),
			LegalTextVersion: r.LegalTextVersion,
			RecordedAt:       r.CreatedAt,
		})
	}
	return responses
}

type PortabilityRequest struct {
	Format string `json:"format" validate:"required,oneof=json csv"`
}

type ErasureRequest struct {
	Immediate bool `json:"immediate"`
}

type RectificationRequest struct {
	Username      string `json:"username" validate:"omitempty,min=3,max=50"`
	Email         string `json:"email" validate:"omitempty,email"`
	Justification string `json:"justification" validate:"omitempty,max=500"`
}

type SubjectRequestResponse struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	RequestedAt time.Time       `json:"requested_at"`
	ScheduledAt *time.Time      `json:"scheduled_at,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
	Format      string          `json:"format,omitempty"`
	Artifact    json.RawMessage `json:"artifact,omitempty"`
	Notes       string          `json:"notes,omitempty"`
}

func SubjectRequestResponseFromEntity(request *entity.SubjectRequest) SubjectRequestResponse {
	return SubjectRequestResponse{
		ID:          request.ID.String(),
		Type:        string(request.Type),
		Status:      string(request.Status),
		RequestedAt: request.RequestedAt,
		ScheduledAt: request.ScheduledAt,
		ProcessedAt: request.ProcessedAt,
		Format:      string(request.Format),
		Artifact:    json.RawMessage(request.Artifact),
		Notes:       request.Notes,
	}
}

func SubjectRequestResponsesFromEntities(requests []entity.SubjectRequest) []SubjectRequestResponse {
	responses := make([]SubjectRequestResponse, 0, len(requests))
	for i := range requests {
		responses = append(responses, SubjectRequestResponseFromEntity(&requests[i]))
	}
	return responses
}

type LegalChangeRequest struct {
	ChangeType         string     `json:"change_type" validate:"required,max=50"`
	Title              string     `json:"title" validate:"required,max=200"`
	Description        string     `json:"description" validate:"required"`
	Jurisdiction       string     `json:"jurisdiction" validate:"omitempty,max=50"`
	Regulation         string     `json:"regulation" validate:"omitempty,max=50"`
	ComplianceDeadline *time.Time `json:"compliance_deadline"`
}

type LegalChangeResponse struct {
	ID                 string     `json:"id"`
	ChangeType         string     `json:"change_type"`
	Title              string     `json:"title"`
	Version            string     `json:"version"`
	Jurisdiction       string     `json:"jurisdiction,omitempty"`
	Regulation         string     `json:"regulation,omitempty"`
	ComplianceDeadline *time.Time `json:"compliance_deadline,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

func LegalChangeResponseFromEntity(change *entity.LegalChange) LegalChangeResponse {
	return LegalChangeResponse{
		ID:                 change.ID.String(),
		ChangeType:         change.ChangeType,
		Title:              change.Title,
		Version:            change.Version,
		Jurisdiction:       change.Jurisdiction,
		Regulation:         change.Regulation,
		ComplianceDeadline: change.ComplianceDeadline,
		CreatedAt:          change.CreatedAt,
	}
}

func LegalChangeResponsesFromEntities(changes []entity.LegalChange) []LegalChangeResponse {
	responses := make([]LegalChangeResponse, 0, len(changes))
	for i := range changes {
		responses = append(responses, LegalChangeResponseFromEntity(&changes[i]))
	}
	return responses
}
