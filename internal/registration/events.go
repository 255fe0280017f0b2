package registration

import (
	"time"

	id "accounts/pkg/domain"
)

const (
	EvtCredentialCreated     = "CredentialCreated"
	EvtProfileCreated        = "ProfileCreated"
	EvtProfileCreationFailed = "ProfileCreationFailed"
	EvtCredentialDeleted     = "CredentialDeleted"
	EvtProfileDeleted        = "ProfileDeleted"
	EvtRunDeadlineExceeded   = "RunDeadlineExceeded"
)

const (
	ReasonCompensation    = "compensation"
	ReasonAccountDeletion = "account_deletion"
)

type CredentialCreated struct {
	CorrelationID id.CorrelationID `json:"correlation_id"`
	CredentialID  id.CredentialID  `json:"credential_id"`
	ProfileID     id.ProfileID     `json:"profile_id"`
	Profile       ProfileDraft     `json:"profile"`
}

type ProfileCreated struct {
	CorrelationID id.CorrelationID `json:"correlation_id"`
	ProfileID     id.ProfileID     `json:"profile_id"`
	CredentialID  id.CredentialID  `json:"credential_id"`
}

type ProfileCreationFailed struct {
	CorrelationID id.CorrelationID `json:"correlation_id"`
	CredentialID  id.CredentialID  `json:"credential_id"`
	ProfileID     id.ProfileID     `json:"profile_id"`
	Cause         string           `json:"cause"`
}

// CredentialDeleted is raised whether or not a live credential existed.
type CredentialDeleted struct {
	CorrelationID id.CorrelationID `json:"correlation_id"`
	CredentialID  id.CredentialID  `json:"credential_id"`
	ProfileID     id.ProfileID     `json:"profile_id"`
	Reason        string           `json:"reason"`
	Existed       bool             `json:"existed"`
}

type ProfileDeleted struct {
	CorrelationID id.CorrelationID `json:"correlation_id"`
	ProfileID     id.ProfileID     `json:"profile_id"`
	CredentialID  id.CredentialID  `json:"credential_id"`
	Existed       bool             `json:"existed"`
}

// RunDeadlineExceeded is synthesised by the deadline sweeper. Deadline is the
// value observed at sweep time; the event is ignored once the run's deadline
// has moved on.
type RunDeadlineExceeded struct {
	CorrelationID id.CorrelationID `json:"correlation_id"`
	Saga          string           `json:"saga"`
	Deadline      time.Time        `json:"deadline"`
}
