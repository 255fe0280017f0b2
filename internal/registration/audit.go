package registration

import (
	"context"

	"accounts/internal/cqrs"
	"accounts/pkg/platform/audit"
	"accounts/pkg/requestcontext"
)

// AuditTrail is a catch-all bus subscriber that records domain events on the
// audit trail keyed by correlation id.
type AuditTrail struct {
	store AuditRecorder
}

func NewAuditTrail(store AuditRecorder) *AuditTrail {
	return &AuditTrail{store: store}
}

func (a *AuditTrail) Handle(ctx context.Context, e cqrs.Event) error {
	entry, ok := auditEntryFor(e)
	if !ok {
		return nil
	}
	entry.CorrelationID = e.CorrelationID
	entry.Timestamp = e.OccurredAt
	entry.ClientIP = requestcontext.ClientIP(ctx)
	entry.Device = requestcontext.Device(ctx)
	return a.store.Append(ctx, entry)
}

func auditEntryFor(e cqrs.Event) (audit.Event, bool) {
	switch p := e.Payload.(type) {
	case CredentialCreated:
		return audit.Event{Action: audit.EventCredentialCreated, Subject: p.CredentialID.String()}, true
	case ProfileCreated:
		return audit.Event{Action: audit.EventProfileCreated, Subject: p.ProfileID.String()}, true
	case ProfileCreationFailed:
		return audit.Event{Action: audit.EventProfileCreationFailed, Subject: p.ProfileID.String(), Reason: p.Cause}, true
	case CredentialDeleted:
		return audit.Event{Action: audit.EventCredentialDeleted, Subject: p.CredentialID.String(), Reason: p.Reason}, true
	case ProfileDeleted:
		return audit.Event{Action: audit.EventProfileDeleted, Subject: p.ProfileID.String()}, true
	}
	return audit.Event{}, false
}
