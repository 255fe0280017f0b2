package run

import (
	"context"
	"time"

	"github.com/stretchr/testify/suite"

	"accounts/internal/registration/models"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/sentinel"
)

type runStore interface {
	Get(ctx context.Context, correlationID id.CorrelationID) (*models.Run, error)
	Save(ctx context.Context, r models.Run, expected models.State) error
	Expired(ctx context.Context, now time.Time, limit int) ([]models.Run, error)
	AddDeadLetter(ctx context.Context, dl models.DeadLetter) error
	DeadLetters(ctx context.Context) ([]models.DeadLetter, error)
}

// contractSuite holds the behaviour every run store must share.
type contractSuite struct {
	suite.Suite
	ctx   context.Context
	store runStore
	now   time.Time
}

func (s *contractSuite) newRun(deadline time.Time) models.Run {
	return models.Run{
		CorrelationID: id.NewCorrelationID(),
		Saga:          models.SagaRegistration,
		State:         models.StateAwaitingProfile,
		CredentialID:  id.NewCredentialID(),
		ProfileID:     id.NewProfileID(),
		Deadline:      deadline,
		StartedAt:     s.now,
		UpdatedAt:     s.now,
	}
}

func (s *contractSuite) TestCreateOnlyOnce() {
	r := s.newRun(s.now.Add(time.Minute))
	s.Require().NoError(s.store.Save(s.ctx, r, ""))
	s.ErrorIs(s.store.Save(s.ctx, r, ""), ErrStaleState)

	got, err := s.store.Get(s.ctx, r.CorrelationID)
	s.Require().NoError(err)
	s.Equal(models.StateAwaitingProfile, got.State)
	s.Equal(r.CredentialID, got.CredentialID)
}

func (s *contractSuite) TestTransitionGuard() {
	r := s.newRun(s.now.Add(time.Minute))
	s.Require().NoError(s.store.Save(s.ctx, r, ""))

	r.State = models.StateCompleted
	s.Require().NoError(s.store.Save(s.ctx, r, models.StateAwaitingProfile))

	s.Run("duplicate transition is rejected", func() {
		s.ErrorIs(s.store.Save(s.ctx, r, models.StateAwaitingProfile), ErrStaleState)
	})

	s.Run("unknown run cannot transition", func() {
		other := s.newRun(s.now)
		s.ErrorIs(s.store.Save(s.ctx, other, models.StateAwaitingProfile), ErrStaleState)
	})
}

func (s *contractSuite) TestExpiredSkipsTerminalAndFutureRuns() {
	due := s.newRun(s.now.Add(-time.Second))
	future := s.newRun(s.now.Add(time.Hour))
	done := s.newRun(s.now.Add(-time.Minute))
	for _, r := range []models.Run{due, future, done} {
		s.Require().NoError(s.store.Save(s.ctx, r, ""))
	}
	done.State = models.StateCompleted
	s.Require().NoError(s.store.Save(s.ctx, done, models.StateAwaitingProfile))

	expired, err := s.store.Expired(s.ctx, s.now, 10)
	s.Require().NoError(err)
	s.Require().Len(expired, 1)
	s.Equal(due.CorrelationID, expired[0].CorrelationID)
}

func (s *contractSuite) TestDeadLettersNewestFirst() {
	first := models.DeadLetter{Run: s.newRun(s.now), Cause: "first", At: s.now}
	second := models.DeadLetter{Run: s.newRun(s.now), Cause: "second", At: s.now.Add(time.Second)}
	s.Require().NoError(s.store.AddDeadLetter(s.ctx, first))
	s.Require().NoError(s.store.AddDeadLetter(s.ctx, second))

	letters, err := s.store.DeadLetters(s.ctx)
	s.Require().NoError(err)
	s.Require().GreaterOrEqual(len(letters), 2)
	s.Equal("second", letters[0].Cause)
	s.Equal("first", letters[1].Cause)
}

func (s *contractSuite) TestGetUnknown() {
	_, err := s.store.Get(s.ctx, id.NewCorrelationID())
	s.ErrorIs(err, sentinel.ErrNotFound)
}
