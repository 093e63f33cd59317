package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler runs the periodic maintenance passes: key expiry, audit
// retention and due subject requests. Every pass is idempotent, so an
// overlapping or restarted run is harmless.
type Scheduler struct {
	keys       *APIKeyService
	audit      *AuditService
	compliance *ComplianceService
	logger     *logrus.Logger
	clock      Clock
	interval   time.Duration
}

func NewScheduler(
	keys *APIKeyService,
	audit *AuditService,
	compliance *ComplianceService,
	logger *logrus.Logger,
	clock Clock,
	interval time.Duration,
) *Scheduler {
	if interval == 0 {
		interval = time.Hour
	}
	return &Scheduler{
		keys:       keys,
		audit:      audit,
		compliance: compliance,
		logger:     logger,
		clock:      clock,
		interval:   interval,
	}
}

// Run blocks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single maintenance pass.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if expired, err := s.keys.SweepExpired(ctx); err != nil {
		s.logger.WithError(err).Error("api key sweep failed")
	} else if expired > 0 {
		s.logger.WithField("expired", expired).Info("api keys expired")
	}

	if removed, err := s.audit.SweepExpired(ctx, s.clock.Now()); err != nil {
		s.logger.WithError(err).Error("audit retention sweep failed")
	} else if removed > 0 {
		s.logger.WithField("removed", removed).Info("audit events purged")
	}

	if processed, err := s.compliance.ProcessDue(ctx); err != nil {
		s.logger.WithError(err).Error("subject request processing failed")
	} else if processed > 0 {
		s.logger.WithField("processed", processed).Info("subject requests executed")
	}
}
