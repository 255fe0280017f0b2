package cqrs

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"

	id "accounts/pkg/domain"
)

type BusSuite struct {
	suite.Suite
	bus *Bus
}

func TestBusSuite(t *testing.T) {
	suite.Run(t, new(BusSuite))
}

func (s *BusSuite) SetupTest() {
	s.bus = NewBus()
}

func (s *BusSuite) recorder(name string, calls *[]string) Subscriber {
	return SubscriberFunc(func(context.Context, Event) error {
		*calls = append(*calls, name)
		return nil
	})
}

func (s *BusSuite) TestDeliveryOrder() {
	var calls []string
	s.bus.SubscribeAll(s.recorder("all-1", &calls))
	s.bus.Subscribe("Created", s.recorder("typed-1", &calls))
	s.bus.Subscribe("Created", s.recorder("typed-2", &calls))
	s.bus.Subscribe("Deleted", s.recorder("other", &calls))
	s.bus.SubscribeAll(s.recorder("all-2", &calls))

	err := s.bus.Publish(context.Background(), Event{Type: "Created", CorrelationID: id.NewCorrelationID()})
	s.Require().NoError(err)
	s.Equal([]string{"typed-1", "typed-2", "all-1", "all-2"}, calls)
}

func (s *BusSuite) TestPublishWithoutSubscribers() {
	s.NoError(s.bus.Publish(context.Background(), Event{Type: "Nobody"}))
}

func (s *BusSuite) TestFailingSubscriberDoesNotStopDelivery() {
	var calls []string
	boom := errors.New("boom")
	s.bus.Subscribe("Created", SubscriberFunc(func(context.Context, Event) error { return boom }))
	s.bus.Subscribe("Created", SubscriberFunc(func(context.Context, Event) error { panic("kaput") }))
	s.bus.Subscribe("Created", s.recorder("after", &calls))

	err := s.bus.Publish(context.Background(), Event{Type: "Created"})
	s.Require().Error(err)
	s.Equal([]string{"after"}, calls)
	s.ErrorIs(err, boom)
	s.True(IsDeliveryError(err))

	var de *DeliveryError
	s.Require().ErrorAs(err, &de)
	s.Equal("Created", de.EventType)
	s.Len(de.Failures, 2)
	s.Contains(de.Failures[1].Error(), "kaput")
}
