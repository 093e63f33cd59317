package service

import (
	"context"
	"time"

	"novacore/internal/entity"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"
)

// Notifier wraps the email collaborator with a backoff retry. Delivery is
// best effort: a message that still fails after the retries is recorded as
// a degraded-delivery audit event and the triggering operation proceeds.
type Notifier struct {
	sender  EmailSender
	audit   *AuditService
	logger  *logrus.Logger
	retries uint64
	backoff time.Duration
}

func NewNotifier(sender EmailSender, audit *AuditService, logger *logrus.Logger) *Notifier {
	return &Notifier{
		sender:  sender,
		audit:   audit,
		logger:  logger,
		retries: 3,
		backoff: time.Second,
	}
}

func (n *Notifier) Notify(ctx context.Context, accountID *uuid.UUID, to string, templateID string, params map[string]string) {
	if n.sender == nil {
		return
	}

	backoff := retry.WithMaxRetries(n.retries, retry.NewFibonacci(n.backoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := n.sender.Send(ctx, to, templateID, params); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err == nil {
		return
	}

	if n.logger != nil {
		n.logger.WithError(err).WithField("template", templateID).Warn("email delivery degraded")
	}
	if n.audit != nil {
		_ = n.audit.Record(ctx, AuditEntry{
			Category: entity.CategorySecurity,
			Actor:    ActorForAccount(accountID),
			Action:   "delivery_degraded",
			Outcome:  entity.OutcomeFailure,
			Metadata: map[string]any{
				"template": templateID,
				"error":    ErrDeliveryDegraded.Error(),
			},
		})
	}
}
