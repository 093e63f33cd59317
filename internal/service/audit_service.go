package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"novacore/internal/entity"
	"novacore/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// Retention classes; assignment is category-driven and immutable after
// write. gdpr/compliance events carry the long class.
const (
	RetentionStandard = "standard"
	RetentionLong     = "long"
)

// AuditService is the append-only event stream. Individual events are never
// updated or deleted; the retention sweep and erasure pseudonymization are
// the only bulk mutations, and both live here.
type AuditService struct {
	events    repository.AuditEventRepository
	logger    *logrus.Logger
	clock     Clock
	retention map[entity.AuditCategory]time.Duration
}

func NewAuditService(
	events repository.AuditEventRepository,
	logger *logrus.Logger,
	clock Clock,
	retention map[entity.AuditCategory]time.Duration,
) *AuditService {
	return &AuditService{
		events:    events,
		logger:    logger,
		clock:     clock,
		retention: retention,
	}
}

type AuditEntry struct {
	Category entity.AuditCategory
	Actor    string
	Action   string
	Outcome  entity.AuditOutcome
	Metadata map[string]any
}

func ActorForAccount(accountID *uuid.UUID) string {
	if accountID == nil {
		return entity.ActorAnonymous
	}
	return accountID.String()
}

func (s *AuditService) Record(ctx context.Context, entry AuditEntry) error {
	now := s.clock.Now()

	actor := entry.Actor
	if actor == "" {
		actor = entity.ActorAnonymous
	}

	var payload datatypes.JSON
	if entry.Metadata != nil {
		bytes, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		payload = datatypes.JSON(bytes)
	}

	event := &entity.AuditEvent{
		Timestamp:      now,
		Category:       entry.Category,
		Actor:          actor,
		Action:         entry.Action,
		Outcome:        entry.Outcome,
		Metadata:       payload,
		RetentionClass: s.retentionClass(entry.Category),
		RetainUntil:    now.Add(s.retentionFor(entry.Category)),
	}

	if err := s.events.Append(ctx, event); err != nil {
		// The store is the source of truth; a failed append still leaves a
		// trace in the process log.
		if s.logger != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"category": entry.Category,
				"action":   entry.Action,
			}).Error("audit append failed")
		}
		return err
	}

	s.mirror(event)
	return nil
}

func (s *AuditService) Query(ctx context.Context, filter repository.AuditFilter) ([]entity.AuditEvent, error) {
	return s.events.Query(ctx, filter)
}

func (s *AuditService) GetEvent(ctx context.Context, id uuid.UUID) (*entity.AuditEvent, error) {
	return s.events.FindByID(ctx, id)
}

// SweepExpired removes events past their retention horizon. Scheduled, not
// inline with request handling.
func (s *AuditService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	removed, err := s.events.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		_ = s.Record(ctx, AuditEntry{
			Category: entity.CategoryCompliance,
			Actor:    entity.ActorAnonymous,
			Action:   "audit_retention_sweep",
			Outcome:  entity.OutcomeSuccess,
			Metadata: map[string]any{"removed": removed},
		})
	}
	return removed, nil
}

// PseudonymizeActor rewrites the actor of every event referencing the
// account with an erasure token. Events stay retrievable; the person
// behind them does not.
func (s *AuditService) PseudonymizeActor(ctx context.Context, accountID uuid.UUID, token string) (int64, error) {
	return s.events.PseudonymizeActor(ctx, accountID.String(), token)
}

func (s *AuditService) ExportForActor(ctx context.Context, actor string) ([]entity.AuditEvent, error) {
	return s.events.Query(ctx, repository.AuditFilter{Actor: actor})
}

// ComplianceReport aggregates the trail over a period: totals, outcome
// split, per-category/action/actor breakdowns and daily activity.
type ComplianceReport struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`

	TotalEvents      int     `json:"total_events"`
	SuccessfulEvents int     `json:"successful_events"`
	FailedEvents     int     `json:"failed_events"`
	SuccessRate      float64 `json:"success_rate"`

	EventsByCategory map[string]int `json:"events_by_category"`
	EventsByAction   map[string]int `json:"events_by_action"`

	// TopActors holds the ten busiest actors of the period.
	TopActors     map[string]int `json:"top_actors"`
	DailyActivity map[string]int `json:"daily_activity"`

	SecurityFailures int `json:"security_failures"`
	FailedLogins     int `json:"failed_logins"`

	GeneratedAt time.Time `json:"generated_at"`
}

func (s *AuditService) GenerateComplianceReport(ctx context.Context, from time.Time, to time.Time) (*ComplianceReport, error) {
	events, err := s.events.Query(ctx, repository.AuditFilter{From: &from, To: &to})
	if err != nil {
		return nil, err
	}

	report := &ComplianceReport{
		From:             from,
		To:               to,
		EventsByCategory: make(map[string]int),
		EventsByAction:   make(map[string]int),
		DailyActivity:    make(map[string]int),
		GeneratedAt:      s.clock.Now(),
	}
	byActor := make(map[string]int)
	for i := range events {
		event := &events[i]
		report.TotalEvents++
		if event.Outcome == entity.OutcomeSuccess {
			report.SuccessfulEvents++
		} else {
			report.FailedEvents++
			if event.Category == entity.CategorySecurity {
				report.SecurityFailures++
			}
			if event.Action == "verify_credentials" {
				report.FailedLogins++
			}
		}
		report.EventsByCategory[string(event.Category)]++
		report.EventsByAction[event.Action]++
		byActor[event.Actor]++
		report.DailyActivity[event.Timestamp.Format("2006-01-02")]++
	}
	if report.TotalEvents > 0 {
		report.SuccessRate = float64(report.SuccessfulEvents) / float64(report.TotalEvents) * 100
	}
	report.TopActors = topActors(byActor, 10)

	_ = s.Record(ctx, AuditEntry{
		Category: entity.CategoryCompliance,
		Actor:    entity.ActorAnonymous,
		Action:   "compliance_report_generated",
		Outcome:  entity.OutcomeSuccess,
		Metadata: map[string]any{
			"from":         from,
			"to":           to,
			"total_events": report.TotalEvents,
		},
	})
	return report, nil
}

func topActors(counts map[string]int, limit int) map[string]int {
	actors := make([]string, 0, len(counts))
	for actor := range counts {
		actors = append(actors, actor)
	}
	sort.Slice(actors, func(i, j int) bool {
		if counts[actors[i]] != counts[actors[j]] {
			return counts[actors[i]] > counts[actors[j]]
		}
		return actors[i] < actors[j]
	})
	if len(actors) > limit {
		actors = actors[:limit]
	}
	top := make(map[string]int, len(actors))
	for _, actor := range actors {
		top[actor] = counts[actor]
	}
	return top
}

func (s *AuditService) retentionFor(category entity.AuditCategory) time.Duration {
	if d, ok := s.retention[category]; ok {
		return d
	}
	return 1095 * 24 * time.Hour
}

func (s *AuditService) retentionClass(category entity.AuditCategory) string {
	switch category {
	case entity.CategoryGDPR, entity.CategoryCompliance:
		return RetentionLong
	default:
		return RetentionStandard
	}
}

func (s *AuditService) mirror(event *entity.AuditEvent) {
	if s.logger == nil {
		return
	}
	entry := s.logger.WithFields(logrus.Fields{
		"category": event.Category,
		"actor":    event.Actor,
		"action":   event.Action,
		"outcome":  event.Outcome,
		"seq":      event.Seq,
	})
	if event.Outcome == entity.OutcomeFailure {
		entry.Warn("audit event")
		return
	}
	entry.Info("audit event")
}
