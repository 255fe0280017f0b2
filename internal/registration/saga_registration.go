package registration

import (
	"context"
	"fmt"

	"accounts/internal/cqrs"
	"accounts/internal/registration/models"
)

// RegistrationSaga drives a registration from CredentialCreated to either a
// created profile or a compensated credential.
//
//	Pending --CredentialCreated--> AwaitingProfile
//	Pending --deadline--> Compensating
//	AwaitingProfile --ProfileCreated--> Completed
//	AwaitingProfile --ProfileCreationFailed | deadline--> Compensating
//	Compensating --CredentialDeleted(compensation)--> Compensated
//	Compensating --dispatch error | deadline--> CompensationFailed
type RegistrationSaga struct {
	sagaBase
}

func NewRegistrationSaga(runs RunStore, dispatcher cqrs.CommandSender, opts ...SagaOption) *RegistrationSaga {
	return &RegistrationSaga{sagaBase: newSagaBase(models.SagaRegistration, runs, dispatcher, opts)}
}

func (s *RegistrationSaga) EventTypes() []string {
	return []string{
		EvtCredentialCreated,
		EvtProfileCreated,
		EvtProfileCreationFailed,
		EvtCredentialDeleted,
		EvtRunDeadlineExceeded,
	}
}

func (s *RegistrationSaga) Handle(ctx context.Context, e cqrs.Event) error {
	switch e.Type {
	case EvtCredentialCreated:
		p, ok := cqrs.PayloadAs[CredentialCreated](e)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
		}
		return s.onCredentialCreated(ctx, p)
	case EvtProfileCreated:
		return s.onProfileCreated(ctx, e)
	case EvtProfileCreationFailed:
		p, ok := cqrs.PayloadAs[ProfileCreationFailed](e)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
		}
		return s.onProfileCreationFailed(ctx, p)
	case EvtCredentialDeleted:
		p, ok := cqrs.PayloadAs[CredentialDeleted](e)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
		}
		return s.onCredentialDeleted(ctx, p)
	case EvtRunDeadlineExceeded:
		return s.onDeadline(ctx, e)
	}
	return nil
}

func (s *RegistrationSaga) onCredentialCreated(ctx context.Context, p CredentialCreated) error {
	r := models.Run{
		CorrelationID: p.CorrelationID,
		State:         models.StateAwaitingProfile,
		CredentialID:  p.CredentialID,
		ProfileID:     p.ProfileID,
	}
	started, err := s.begin(ctx, r)
	if err != nil || !started {
		return err
	}

	_, err = s.dispatcher.Dispatch(ctx, CreateProfile{
		CorrelationID: p.CorrelationID,
		CredentialID:  p.CredentialID,
		ProfileID:     p.ProfileID,
		Profile:       p.Profile,
	})
	if err == nil {
		return nil
	}
	current, loadErr := s.load(ctx, p.CorrelationID)
	if loadErr != nil || current == nil {
		return loadErr
	}
	if current.State != models.StateAwaitingProfile {
		return nil
	}
	return s.compensate(ctx, *current, fmt.Sprintf("create profile dispatch failed: %v", err))
}

func (s *RegistrationSaga) onProfileCreated(ctx context.Context, e cqrs.Event) error {
	r, err := s.load(ctx, e.CorrelationID)
	if err != nil || r == nil || r.State != models.StateAwaitingProfile {
		return err
	}
	_, _, err = s.transition(ctx, *r, models.StateCompleted, nil)
	return err
}

func (s *RegistrationSaga) onProfileCreationFailed(ctx context.Context, p ProfileCreationFailed) error {
	r, err := s.load(ctx, p.CorrelationID)
	if err != nil || r == nil || r.State != models.StateAwaitingProfile {
		return err
	}
	return s.compensate(ctx, *r, p.Cause)
}

func (s *RegistrationSaga) onCredentialDeleted(ctx context.Context, p CredentialDeleted) error {
	if p.Reason != ReasonCompensation {
		return nil
	}
	r, err := s.load(ctx, p.CorrelationID)
	if err != nil || r == nil || r.State != models.StateCompensating {
		return err
	}
	_, _, err = s.transition(ctx, *r, models.StateCompensated, nil)
	return err
}

func (s *RegistrationSaga) onDeadline(ctx context.Context, e cqrs.Event) error {
	r, err := s.deadlineFor(ctx, e)
	if err != nil || r == nil {
		return err
	}
	switch r.State {
	case models.StatePending, models.StateAwaitingProfile:
		return s.compensate(ctx, *r, "profile creation timed out")
	case models.StateCompensating:
		return s.fail(ctx, *r, "compensation timed out")
	}
	return nil
}

// compensate undoes the credential. A dispatch failure here leaves nothing else
// to try, so the run is dead-lettered.
func (s *RegistrationSaga) compensate(ctx context.Context, r models.Run, cause string) error {
	compensating, ok, err := s.transition(ctx, r, models.StateCompensating, func(u *models.Run) {
		u.Reason = cause
		u.Deadline = u.UpdatedAt.Add(s.timeout)
	})
	if err != nil || !ok {
		return err
	}
	s.logger.WarnContext(ctx, "compensating registration",
		"correlation_id", r.CorrelationID.String(),
		"credential_id", r.CredentialID.String(),
		"cause", cause,
	)

	_, err = s.dispatcher.Dispatch(ctx, DeleteCredential{
		CorrelationID: r.CorrelationID,
		CredentialID:  r.CredentialID,
		ProfileID:     r.ProfileID,
		Reason:        ReasonCompensation,
	})
	if err == nil {
		return nil
	}
	return s.fail(ctx, compensating, fmt.Sprintf("compensation failed: %v", err))
}
