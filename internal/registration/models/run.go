package models

import (
	"time"

	id "accounts/pkg/domain"
)

const (
	SagaRegistration = "registration"
	SagaDeletion     = "deletion"
)

// State is the position of a saga run in its state machine.
type State string

const (
	StatePending                 State = "pending"
	StateAwaitingProfile         State = "awaiting_profile"
	StateCompensating            State = "compensating"
	StateCompleted               State = "completed"
	StateCompensated             State = "compensated"
	StateCompensationFailed      State = "compensation_failed"
	StateAwaitingProfileDeletion State = "awaiting_profile_deletion"
)

// IsTerminal reports states that ignore every further event.
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateCompensated, StateCompensationFailed:
		return true
	}
	return false
}

// Run tracks one saga instance, keyed by correlation id.
type Run struct {
	CorrelationID id.CorrelationID `json:"correlation_id"`
	Saga          string           `json:"saga"`
	State         State            `json:"state"`
	CredentialID  id.CredentialID  `json:"credential_id"`
	ProfileID     id.ProfileID     `json:"profile_id"`
	Deadline      time.Time        `json:"deadline"`
	Reason        string           `json:"reason,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

func (r Run) IsTerminal() bool { return r.State.IsTerminal() }

// DeadLetter is a run that ended in CompensationFailed and needs manual repair.
type DeadLetter struct {
	Run   Run       `json:"run"`
	Cause string    `json:"cause"`
	At    time.Time `json:"at"`
}
