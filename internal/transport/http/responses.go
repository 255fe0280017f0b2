package httptransport

import (
	"time"

	"accounts/internal/registration"
	"accounts/internal/registration/models"
	id "accounts/pkg/domain"
)

type acceptedResponse struct {
	Message       string           `json:"message"`
	CredentialID  id.CredentialID  `json:"credential_id"`
	ProfileID     id.ProfileID     `json:"profile_id"`
	CorrelationID id.CorrelationID `json:"correlation_id"`
	StatusURL     string           `json:"status_url"`
}

func toAcceptedResponse(a *registration.Accepted) acceptedResponse {
	return acceptedResponse{
		Message:       a.Message,
		CredentialID:  a.CredentialID,
		ProfileID:     a.ProfileID,
		CorrelationID: a.CorrelationID,
		StatusURL:     "/registrations/" + a.CorrelationID.String(),
	}
}

type trailEntry struct {
	Action    string    `json:"action"`
	Subject   string    `json:"subject,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// runStatusResponse is public: client metadata from the audit trail is left out.
type runStatusResponse struct {
	CorrelationID id.CorrelationID `json:"correlation_id"`
	Saga          string           `json:"saga"`
	State         models.State     `json:"state"`
	Terminal      bool             `json:"terminal"`
	Reason        string           `json:"reason,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	Trail         []trailEntry     `json:"trail"`
}

func toRunStatusResponse(s *registration.RunStatus) runStatusResponse {
	resp := runStatusResponse{
		CorrelationID: s.Run.CorrelationID,
		Saga:          s.Run.Saga,
		State:         s.Run.State,
		Terminal:      s.Run.IsTerminal(),
		Reason:        s.Run.Reason,
		StartedAt:     s.Run.StartedAt,
		UpdatedAt:     s.Run.UpdatedAt,
		Trail:         make([]trailEntry, 0, len(s.Trail)),
	}
	for _, e := range s.Trail {
		resp.Trail = append(resp.Trail, trailEntry{
			Action:    string(e.Action),
			Subject:   e.Subject,
			Reason:    e.Reason,
			Timestamp: e.Timestamp,
		})
	}
	return resp
}

type deadLettersResponse struct {
	DeadLetters []models.DeadLetter `json:"dead_letters"`
	Count       int                 `json:"count"`
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
