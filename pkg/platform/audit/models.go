package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	id "accounts/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose.
type EventCategory string

const (
	// CategoryCompliance covers account creation and deletion.
	CategoryCompliance EventCategory = "compliance"
	// CategorySecurity covers authentication failures and workflows needing
	// manual intervention.
	CategorySecurity EventCategory = "security"
	// CategoryOperations covers routine activity.
	CategoryOperations EventCategory = "operations"
)

type AuditEvent string

const (
	EventCredentialCreated     AuditEvent = "credential_created"
	EventProfileCreated        AuditEvent = "profile_created"
	EventProfileCreationFailed AuditEvent = "profile_creation_failed"
	EventCredentialDeleted     AuditEvent = "credential_deleted"
	EventProfileDeleted        AuditEvent = "profile_deleted"
	EventSagaDeadLettered      AuditEvent = "saga_dead_lettered"
	EventLoginSucceeded        AuditEvent = "login_succeeded"
	EventAuthFailed            AuditEvent = "auth_failed"
	EventTokenRefreshed        AuditEvent = "token_refreshed"
	EventLoggedOut             AuditEvent = "logged_out"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCredentialCreated: CategoryCompliance,
	EventProfileCreated:    CategoryCompliance,
	EventCredentialDeleted: CategoryCompliance,
	EventProfileDeleted:    CategoryCompliance,

	EventProfileCreationFailed: CategorySecurity,
	EventSagaDeadLettered:      CategorySecurity,
	EventAuthFailed:            CategorySecurity,

	EventLoginSucceeded: CategoryOperations,
	EventTokenRefreshed: CategoryOperations,
	EventLoggedOut:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Event is one entry of the audit trail. CorrelationID ties the entries of a
// single registration or deletion workflow together.
type Event struct {
	ID            uuid.UUID        `json:"id"`
	CorrelationID id.CorrelationID `json:"correlation_id"`
	Category      EventCategory    `json:"category"`
	Action        AuditEvent       `json:"action"`
	Subject       string           `json:"subject,omitempty"`
	Reason        string           `json:"reason,omitempty"`
	ClientIP      string           `json:"client_ip,omitempty"`
	Device        string           `json:"device,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// Normalize fills the id, category and timestamp when unset.
func (e Event) Normalize(now time.Time) Event {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Category == "" {
		e.Category = e.Action.Category()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = now
	}
	return e
}

// Store appends and lists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCorrelation(ctx context.Context, correlationID id.CorrelationID) ([]Event, error)
}
