package registration

import (
	"context"
	"fmt"

	"accounts/internal/cqrs"
	"accounts/internal/registration/models"
)

// DeletionSaga removes the profile once an account's credential is deleted.
// Nothing can be compensated after the credential is gone, so any failure is
// dead-lettered.
type DeletionSaga struct {
	sagaBase
}

func NewDeletionSaga(runs RunStore, dispatcher cqrs.CommandSender, opts ...SagaOption) *DeletionSaga {
	return &DeletionSaga{sagaBase: newSagaBase(models.SagaDeletion, runs, dispatcher, opts)}
}

func (s *DeletionSaga) EventTypes() []string {
	return []string{EvtCredentialDeleted, EvtProfileDeleted, EvtRunDeadlineExceeded}
}

func (s *DeletionSaga) Handle(ctx context.Context, e cqrs.Event) error {
	switch e.Type {
	case EvtCredentialDeleted:
		p, ok := cqrs.PayloadAs[CredentialDeleted](e)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
		}
		return s.onCredentialDeleted(ctx, p)
	case EvtProfileDeleted:
		r, err := s.load(ctx, e.CorrelationID)
		if err != nil || r == nil || r.State != models.StateAwaitingProfileDeletion {
			return err
		}
		_, _, err = s.transition(ctx, *r, models.StateCompleted, nil)
		return err
	case EvtRunDeadlineExceeded:
		r, err := s.deadlineFor(ctx, e)
		if err != nil || r == nil {
			return err
		}
		return s.fail(ctx, *r, "profile deletion timed out")
	}
	return nil
}

func (s *DeletionSaga) onCredentialDeleted(ctx context.Context, p CredentialDeleted) error {
	if p.Reason != ReasonAccountDeletion {
		return nil
	}
	r := models.Run{
		CorrelationID: p.CorrelationID,
		State:         models.StateAwaitingProfileDeletion,
		CredentialID:  p.CredentialID,
		ProfileID:     p.ProfileID,
	}
	started, err := s.begin(ctx, r)
	if err != nil || !started {
		return err
	}

	_, err = s.dispatcher.Dispatch(ctx, DeleteProfile{
		CorrelationID: p.CorrelationID,
		ProfileID:     p.ProfileID,
		CredentialID:  p.CredentialID,
	})
	if err == nil {
		return nil
	}
	current, loadErr := s.load(ctx, p.CorrelationID)
	if loadErr != nil || current == nil || current.IsTerminal() {
		return loadErr
	}
	return s.fail(ctx, *current, fmt.Sprintf("delete profile dispatch failed: %v", err))
}
