package entity

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type AuditCategory string

const (
	CategoryAuth       AuditCategory = "auth"
	CategorySecurity   AuditCategory = "security"
	CategoryGDPR       AuditCategory = "gdpr"
	CategoryAPI        AuditCategory = "api"
	CategoryCompliance AuditCategory = "compliance"
)

type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailure AuditOutcome = "failure"
)

// ActorAnonymous is recorded when no account is associated with an event.
const ActorAnonymous = "anonymous"

// AuditEvent is append-only. Seq gives a total order that query results
// follow, so a later event for an account is never visible before an
// earlier one. The only permitted mutation is actor pseudonymization
// during erasure; everything else is write-once.
type AuditEvent struct {
	ID  uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Seq int64     `gorm:"autoIncrement;uniqueIndex"`

	Timestamp time.Time     `gorm:"index;not null"`
	Category  AuditCategory `gorm:"type:varchar(20);index;not null"`

	// Actor is an account id, ActorAnonymous, or an erasure token once the
	// account behind it has been erased.
	Actor string `gorm:"type:varchar(64);index;not null"`

	Action  string       `gorm:"type:varchar(100);index;not null"`
	Outcome AuditOutcome `gorm:"type:varchar(10);not null"`

	Metadata datatypes.JSON

	// RetentionClass and RetainUntil are assigned at write time from the
	// category retention matrix and never change afterwards. Purge
	// eligibility, not purge timing.
	RetentionClass string    `gorm:"type:varchar(30);not null"`
	RetainUntil    time.Time `gorm:"index;not null"`
}
