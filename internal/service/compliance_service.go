package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"novacore/internal/entity"
	"novacore/internal/repository"
	"novacore/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

type ComplianceConfig struct {
	// ErasureGrace is the window during which a scheduled erasure can still
	// be cancelled by the subject.
	ErasureGrace time.Duration
}

// ComplianceService covers the consent ledger, subject requests and
// legal-text versioning. Erasure anonymizes rather than deletes: audit
// history survives under a pseudonymous actor token so the trail stays
// complete without identifying the subject.
type ComplianceService struct {
	accounts   repository.AccountRepository
	consents   repository.ConsentRepository
	requests   repository.SubjectRequestRepository
	legal      repository.LegalChangeRepository
	keys       repository.APIKeyRepository
	secrets    repository.TwoFactorRepository
	emailCodes repository.EmailCodeRepository

	audit    *AuditService
	notifier *Notifier
	logger   *logrus.Logger
	clock    Clock
	cfg      ComplianceConfig
}

func NewComplianceService(
	accounts repository.AccountRepository,
	consents repository.ConsentRepository,
	requests repository.SubjectRequestRepository,
	legal repository.LegalChangeRepository,
	keys repository.APIKeyRepository,
	secrets repository.TwoFactorRepository,
	emailCodes repository.EmailCodeRepository,
	audit *AuditService,
	notifier *Notifier,
	logger *logrus.Logger,
	clock Clock,
	cfg ComplianceConfig,
) *ComplianceService {
	if cfg.ErasureGrace == 0 {
		cfg.ErasureGrace = 30 * 24 * time.Hour
	}
	return &ComplianceService{
		accounts:   accounts,
		consents:   consents,
		requests:   requests,
		legal:      legal,
		keys:       keys,
		secrets:    secrets,
		emailCodes: emailCodes,
		audit:      audit,
		notifier:   notifier,
		logger:     logger,
		clock:      clock,
		cfg:        cfg,
	}
}

// RecordConsent appends to the consent ledger. A withdrawal appends a
// granted=false row; history is never rewritten.
func (s *ComplianceService) RecordConsent(ctx context.Context, input RecordConsentInput) (*entity.ConsentRecord, error) {
	if strings.TrimSpace(input.Purpose) == "" {
		return nil, ErrInvalidInput
	}
	account, err := s.accounts.FindByID(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Anonymized {
		return nil, ErrAccountNotFound
	}

	version := input.LegalTextVersion
	if version == "" {
		version = s.currentLegalVersion(ctx)
	}
	record := &entity.ConsentRecord{
		AccountID:        account.ID,
		Purpose:          strings.TrimSpace(input.Purpose),
		Granted:          input.Granted,
		Mechanism:        input.Mechanism,
		LegalTextVersion: version,
	}
	if err := s.consents.Append(ctx, record); err != nil {
		return nil, err
	}
	if input.Granted {
		if err := s.accounts.SetConsentVersion(ctx, account.ID, version); err != nil {
			return nil, err
		}
	}

	s.auditGDPR(ctx, account.ID.String(), "consent_recorded", entity.OutcomeSuccess, map[string]any{
		"purpose": record.Purpose,
		"granted": record.Granted,
		"version": version,
	})
	return record, nil
}

func (s *ComplianceService) ConsentHistory(ctx context.Context, accountID uuid.UUID) ([]entity.ConsentRecord, error) {
	return s.consents.ListByAccount(ctx, accountID)
}

// FileAccessRequest compiles everything held about the subject and completes
// synchronously; access needs no grace period.
func (s *ComplianceService) FileAccessRequest(ctx context.Context, accountID uuid.UUID) (*entity.SubjectRequest, error) {
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	request := &entity.SubjectRequest{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Type:        entity.RequestAccess,
		Status:      entity.RequestPending,
		RequestedAt: s.clock.Now(),
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	export, err := s.buildExport(ctx, account)
	if err != nil {
		return nil, err
	}
	artifact, err := json.Marshal(export)
	if err != nil {
		return nil, err
	}
	if err := s.completeWithArtifact(ctx, request, datatypes.JSON(artifact)); err != nil {
		return nil, err
	}

	s.auditGDPR(ctx, account.ID.String(), "access_request_completed", entity.OutcomeSuccess, map[string]any{
		"request_id": request.ID.String(),
	})
	return request, nil
}

// FilePortabilityRequest exports the subject's data in a machine-readable
// format, json or csv.
func (s *ComplianceService) FilePortabilityRequest(ctx context.Context, accountID uuid.UUID, format entity.ExportFormat) (*entity.SubjectRequest, error) {
	if format != entity.FormatJSON && format != entity.FormatCSV {
		return nil, ErrUnsupportedFormat
	}
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	request := &entity.SubjectRequest{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Type:        entity.RequestPortability,
		Status:      entity.RequestPending,
		RequestedAt: s.clock.Now(),
		Format:      format,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	export, err := s.buildExport(ctx, account)
	if err != nil {
		return nil, err
	}
	var artifact []byte
	switch format {
	case entity.FormatJSON:
		artifact, err = json.Marshal(export)
	case entity.FormatCSV:
		artifact, err = s.encodeCSV(export)
	}
	if err != nil {
		return nil, err
	}
	if err := s.completeWithArtifact(ctx, request, datatypes.JSON(artifact)); err != nil {
		return nil, err
	}

	s.auditGDPR(ctx, account.ID.String(), "portability_request_completed", entity.OutcomeSuccess, map[string]any{
		"request_id": request.ID.String(),
		"format":     string(format),
	})
	return request, nil
}

// FileErasureRequest schedules erasure after the grace window, or runs it
// right away when immediate is set. A legal hold blocks it entirely.
func (s *ComplianceService) FileErasureRequest(ctx context.Context, accountID uuid.UUID, immediate bool) (*entity.SubjectRequest, error) {
	account, err := s.activeAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.LegalHold {
		s.auditGDPR(ctx, account.ID.String(), "erasure_request", entity.OutcomeFailure, map[string]any{
			"reason": "legal_hold",
		})
		return nil, ErrLegalHoldBlocksErasure
	}

	now := s.clock.Now()
	request := &entity.SubjectRequest{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Type:        entity.RequestErasure,
		Status:      entity.RequestPending,
		RequestedAt: now,
	}
	if !immediate {
		scheduled := now.Add(s.cfg.ErasureGrace)
		request.ScheduledAt = &scheduled
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	if immediate {
		if err := s.executeErasure(ctx, request); err != nil {
			return nil, err
		}
		return request, nil
	}

	s.auditGDPR(ctx, account.ID.String(), "erasure_scheduled", entity.OutcomeSuccess, map[string]any{
		"request_id":   request.ID.String(),
		"scheduled_at": request.ScheduledAt,
	})
	if s.notifier != nil {
		s.notifier.Notify(ctx, &account.ID, account.Email, "erasure_scheduled", map[string]string{
			"scheduled_at": request.ScheduledAt.Format(time.RFC3339),
		})
	}
	return request, nil
}

// CancelErasure withdraws a scheduled erasure that has not started executing.
func (s *ComplianceService) CancelErasure(ctx context.Context, accountID uuid.UUID, requestID uuid.UUID) error {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return err
	}
	if request == nil || request.AccountID != accountID || request.Type != entity.RequestErasure {
		return ErrInvalidInput
	}

	cancelled, err := s.requests.TransitionStatus(ctx, request.ID, entity.RequestPending, entity.RequestRejected, nil)
	if err != nil {
		return err
	}
	if !cancelled {
		return ErrRequestAlreadyProcessed
	}
	if err := s.requests.SetNotes(ctx, request.ID, "cancelled by subject"); err != nil {
		return err
	}

	s.auditGDPR(ctx, accountID.String(), "erasure_cancelled", entity.OutcomeSuccess, map[string]any{
		"request_id": request.ID.String(),
	})
	return nil
}

// FileRectificationRequest applies corrections to the subject's identifying
// fields and records old and new values in the trail.
func (s *ComplianceService) FileRectificationRequest(ctx context.Context, input RectificationInput) (*entity.SubjectRequest, error) {
	if input.Username == "" && input.Email == "" {
		return nil, ErrInvalidInput
	}
	account, err := s.activeAccount(ctx, input.AccountID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	request := &entity.SubjectRequest{
		ID:          uuid.New(),
		AccountID:   account.ID,
		Type:        entity.RequestRectification,
		Status:      entity.RequestPending,
		RequestedAt: now,
		Notes:       input.Justification,
	}
	if err := s.requests.Create(ctx, request); err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if input.Username != "" && input.Username != account.Username {
		if existing, err := s.accounts.FindByUsername(ctx, input.Username); err != nil {
			return nil, err
		} else if existing != nil {
			return nil, ErrUsernameTaken
		}
		changes["username"] = map[string]string{"old": account.Username, "new": input.Username}
		account.Username = input.Username
	}
	if input.Email != "" {
		email := utils.NormalizeEmail(input.Email)
		if email != account.Email {
			changes["email"] = map[string]string{"old": account.Email, "new": email}
			account.Email = email
		}
	}
	if err := s.accounts.Update(ctx, account); err != nil {
		return nil, err
	}

	artifact, err := json.Marshal(changes)
	if err != nil {
		return nil, err
	}
	if err := s.completeWithArtifact(ctx, request, datatypes.JSON(artifact)); err != nil {
		return nil, err
	}

	s.auditGDPR(ctx, account.ID.String(), "rectification_completed", entity.OutcomeSuccess, map[string]any{
		"request_id": request.ID.String(),
		"fields":     fieldNames(changes),
	})
	return request, nil
}

func (s *ComplianceService) GetRequest(ctx context.Context, accountID uuid.UUID, requestID uuid.UUID) (*entity.SubjectRequest, error) {
	request, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil || request.AccountID != accountID {
		return nil, ErrInvalidInput
	}
	return request, nil
}

func (s *ComplianceService) ListRequests(ctx context.Context, accountID uuid.UUID) ([]entity.SubjectRequest, error) {
	return s.requests.ListByAccount(ctx, accountID)
}

// RegisterLegalChange versions the legal text. Regulation-level changes bump
// the major version; everything else bumps the minor. Accounts consented
// under an older version are flagged for re-consent on next login.
func (s *ComplianceService) RegisterLegalChange(ctx context.Context, input LegalChangeInput) (*entity.LegalChange, error) {
	if strings.TrimSpace(input.Title) == "" || strings.TrimSpace(input.ChangeType) == "" {
		return nil, ErrInvalidInput
	}

	latest, err := s.legal.Latest(ctx)
	if err != nil {
		return nil, err
	}
	version := "1.0"
	var previousID *uuid.UUID
	if latest != nil {
		version = bumpVersion(latest.Version, isMajorChange(input.ChangeType))
		previousID = &latest.ID
	}

	change := &entity.LegalChange{
		ID:                 uuid.New(),
		ChangeType:         input.ChangeType,
		Title:              input.Title,
		Description:        input.Description,
		Jurisdiction:       input.Jurisdiction,
		Regulation:         input.Regulation,
		Version:            version,
		PreviousVersionID:  previousID,
		ComplianceDeadline: input.ComplianceDeadline,
		CreatedBy:          input.CreatedBy,
	}
	if err := s.legal.Create(ctx, change); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, AuditEntry{
		Category: entity.CategoryCompliance,
		Actor:    entity.ActorAnonymous,
		Action:   "legal_change_registered",
		Outcome:  entity.OutcomeSuccess,
		Metadata: map[string]any{
			"change_type": change.ChangeType,
			"version":     change.Version,
		},
	})
	return change, nil
}

func (s *ComplianceService) ListLegalChanges(ctx context.Context, limit int) ([]entity.LegalChange, error) {
	return s.legal.List(ctx, limit)
}

// ComplianceDashboard summarizes the subject-request workload and the
// current legal-text state for operators.
type ComplianceDashboard struct {
	TotalRequests   int64 `json:"total_requests"`
	PendingRequests int64 `json:"pending_requests"`

	RequestsByType   map[string]int64 `json:"requests_by_type"`
	RequestsByStatus map[string]int64 `json:"requests_by_status"`

	LatestLegalVersion string               `json:"latest_legal_version"`
	RecentLegalChanges []entity.LegalChange `json:"recent_legal_changes"`

	GeneratedAt time.Time `json:"generated_at"`
}

func (s *ComplianceService) Dashboard(ctx context.Context) (*ComplianceDashboard, error) {
	byType, byStatus, err := s.requests.CountByTypeAndStatus(ctx)
	if err != nil {
		return nil, err
	}

	dashboard := &ComplianceDashboard{
		RequestsByType:     make(map[string]int64, len(byType)),
		RequestsByStatus:   make(map[string]int64, len(byStatus)),
		LatestLegalVersion: s.currentLegalVersion(ctx),
		GeneratedAt:        s.clock.Now(),
	}
	for requestType, n := range byType {
		dashboard.RequestsByType[string(requestType)] = n
		dashboard.TotalRequests += n
	}
	for status, n := range byStatus {
		dashboard.RequestsByStatus[string(status)] = n
		if status == entity.RequestPending || status == entity.RequestProcessing {
			dashboard.PendingRequests += n
		}
	}

	changes, err := s.legal.List(ctx, 10)
	if err != nil {
		return nil, err
	}
	dashboard.RecentLegalChanges = changes
	return dashboard, nil
}

// ProcessDue executes scheduled requests whose time has come. The
// pending -> processing transition is conditional, so two sweeps racing over
// the same request execute it once.
func (s *ComplianceService) ProcessDue(ctx context.Context) (int, error) {
	due, err := s.requests.FindDue(ctx, s.clock.Now())
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range due {
		request := &due[i]
		if request.Type != entity.RequestErasure {
			continue
		}
		if err := s.executeErasure(ctx, request); err != nil {
			if s.logger != nil {
				s.logger.WithError(err).WithField("request_id", request.ID).Error("erasure execution failed")
			}
			continue
		}
		processed++
	}
	return processed, nil
}

// executeErasure anonymizes the account and everything that can identify it.
// Audit events survive with the actor replaced by a pseudonymous erasure
// token; key and consent history keep their structure, stripped of identity.
func (s *ComplianceService) executeErasure(ctx context.Context, request *entity.SubjectRequest) error {
	started, err := s.requests.TransitionStatus(ctx, request.ID, entity.RequestPending, entity.RequestProcessing, nil)
	if err != nil {
		return err
	}
	if !started {
		return nil
	}

	account, err := s.accounts.FindByID(ctx, request.AccountID)
	if err != nil {
		return err
	}
	if account == nil {
		return ErrAccountNotFound
	}
	if account.LegalHold {
		_, err := s.requests.TransitionStatus(ctx, request.ID, entity.RequestProcessing, entity.RequestRejected, nil)
		if err != nil {
			return err
		}
		return s.requests.SetNotes(ctx, request.ID, "blocked by legal hold")
	}

	suffix, err := utils.GenerateRandomToken(8)
	if err != nil {
		return err
	}
	token := "erased-" + suffix

	active, err := s.keys.ListActiveByOwner(ctx, account.ID)
	if err != nil {
		return err
	}
	revoked := map[uuid.UUID]bool{}
	for i := range active {
		if revoked[active[i].KeyID] {
			continue
		}
		if _, err := s.keys.RevokeByKeyID(ctx, active[i].KeyID); err != nil {
			return err
		}
		revoked[active[i].KeyID] = true
	}

	if err := s.secrets.Delete(ctx, account.ID); err != nil {
		return err
	}
	if err := s.emailCodes.DeleteForAccount(ctx, account.ID); err != nil {
		return err
	}
	if _, err := s.accounts.Anonymize(ctx, account.ID, token, token+"@erased.invalid"); err != nil {
		return err
	}
	pseudonymized, err := s.audit.PseudonymizeActor(ctx, account.ID, token)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	if _, err := s.requests.TransitionStatus(ctx, request.ID, entity.RequestProcessing, entity.RequestCompleted, &now); err != nil {
		return err
	}
	request.Status = entity.RequestCompleted
	request.ProcessedAt = &now

	// Recorded under the erasure token, never the erased identity.
	s.auditGDPR(ctx, token, "erasure_completed", entity.OutcomeSuccess, map[string]any{
		"request_id":     request.ID.String(),
		"keys_revoked":   len(revoked),
		"events_renamed": pseudonymized,
	})
	return nil
}

// SubjectExport is the artifact shape for access and portability requests.
type SubjectExport struct {
	Account struct {
		ID              string     `json:"id"`
		Username        string     `json:"username"`
		Email           string     `json:"email"`
		TwoFactorStatus string     `json:"two_factor_status"`
		ConsentVersion  string     `json:"consent_version"`
		CreatedAt       time.Time  `json:"created_at"`
		LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
	} `json:"account"`
	Consents []entity.ConsentRecord `json:"consents"`
	Keys     []exportedKey          `json:"api_keys"`
	Events   []exportedEvent        `json:"audit_events"`
}

type exportedKey struct {
	KeyID     string    `json:"key_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Scopes    []string  `json:"scopes"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type exportedEvent struct {
	Seq       int64     `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Category  string    `json:"category"`
	Action    string    `json:"action"`
	Outcome   string    `json:"outcome"`
}

func (s *ComplianceService) buildExport(ctx context.Context, account *entity.Account) (*SubjectExport, error) {
	export := &SubjectExport{}
	export.Account.ID = account.ID.String()
	export.Account.Username = account.Username
	export.Account.Email = account.Email
	export.Account.TwoFactorStatus = string(account.TwoFactorStatus)
	export.Account.ConsentVersion = account.ConsentVersion
	export.Account.CreatedAt = account.CreatedAt
	export.Account.LastLoginAt = account.LastLoginAt

	consents, err := s.consents.ListByAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	export.Consents = consents

	keys, err := s.keys.ListByOwner(ctx, account.ID, true)
	if err != nil {
		return nil, err
	}
	for _, k := range keys {
		export.Keys = append(export.Keys, exportedKey{
			KeyID:     k.KeyID.String(),
			Name:      k.Name,
			Status:    string(k.Status),
			Scopes:    k.Scopes,
			CreatedAt: k.CreatedAt,
			ExpiresAt: k.ExpiresAt,
		})
	}

	events, err := s.audit.ExportForActor(ctx, account.ID.String())
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		export.Events = append(export.Events, exportedEvent{
			Seq:       e.Seq,
			Timestamp: e.Timestamp,
			Category:  string(e.Category),
			Action:    e.Action,
			Outcome:   string(e.Outcome),
		})
	}
	return export, nil
}

func (s *ComplianceService) encodeCSV(export *SubjectExport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{
		{"section", "field", "value"},
		{"account", "id", export.Account.ID},
		{"account", "username", export.Account.Username},
		{"account", "email", export.Account.Email},
		{"account", "two_factor_status", export.Account.TwoFactorStatus},
		{"account", "consent_version", export.Account.ConsentVersion},
	}
	for _, c := range export.Consents {
		rows = append(rows, []string{
			"consent", c.Purpose,
			fmt.Sprintf("granted=%t version=%s at=%s", c.Granted, c.LegalTextVersion, c.CreatedAt.Format(time.RFC3339)),
		})
	}
	for _, k := range export.Keys {
		rows = append(rows, []string{"api_key", k.Name, fmt.Sprintf("status=%s expires=%s", k.Status, k.ExpiresAt.Format(time.RFC3339))})
	}
	for _, e := range export.Events {
		rows = append(rows, []string{"audit_event", e.Action, fmt.Sprintf("seq=%d outcome=%s at=%s", e.Seq, e.Outcome, e.Timestamp.Format(time.RFC3339))})
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	w.Flush()

	payload := map[string]string{"format": "csv", "content": buf.String()}
	return json.Marshal(payload)
}

func (s *ComplianceService) completeWithArtifact(ctx context.Context, request *entity.SubjectRequest, artifact datatypes.JSON) error {
	if err := s.requests.SetArtifact(ctx, request.ID, artifact); err != nil {
		return err
	}
	now := s.clock.Now()
	if _, err := s.requests.TransitionStatus(ctx, request.ID, entity.RequestPending, entity.RequestCompleted, &now); err != nil {
		return err
	}
	request.Status = entity.RequestCompleted
	request.ProcessedAt = &now
	request.Artifact = artifact
	return nil
}

func (s *ComplianceService) activeAccount(ctx context.Context, accountID uuid.UUID) (*entity.Account, error) {
	account, err := s.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil || account.Anonymized {
		return nil, ErrAccountNotFound
	}
	return account, nil
}

func (s *ComplianceService) currentLegalVersion(ctx context.Context) string {
	latest, err := s.legal.Latest(ctx)
	if err != nil || latest == nil {
		return "1.0"
	}
	return latest.Version
}

func (s *ComplianceService) auditGDPR(ctx context.Context, actor string, action string, outcome entity.AuditOutcome, metadata map[string]any) {
	_ = s.audit.Record(ctx, AuditEntry{
		Category: entity.CategoryGDPR,
		Actor:    actor,
		Action:   action,
		Outcome:  outcome,
		Metadata: metadata,
	})
}

func isMajorChange(changeType string) bool {
	switch changeType {
	case "regulation_update", "jurisdiction_expansion":
		return true
	}
	return false
}

// bumpVersion increments a "major.minor" string. Unparseable input restarts
// the sequence.
func bumpVersion(current string, major bool) string {
	parts := strings.SplitN(current, ".", 2)
	if len(parts) != 2 {
		return "1.0"
	}
	maj, err1 := strconv.Atoi(parts[0])
	min, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return "1.0"
	}
	if major {
		return fmt.Sprintf("%d.0", maj+1)
	}
	return fmt.Sprintf("%d.%d", maj, min+1)
}

func fieldNames(changes map[string]any) []string {
	names := make([]string, 0, len(changes))
	for name := range changes {
		names = append(names, name)
	}
	return names
}
