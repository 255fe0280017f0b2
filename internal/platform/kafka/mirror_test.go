package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"accounts/internal/cqrs"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/circuit"
)

type recordingProducer struct {
	records []*kgo.Record
	err     error
}

func (p *recordingProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.err == nil {
			p.records = append(p.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return results
}

type samplePayload struct {
	CredentialID id.CredentialID `json:"credential_id"`
	Reason       string          `json:"reason"`
}

type MirrorSuite struct {
	suite.Suite
	producer *recordingProducer
	mirror   *Mirror
	event    cqrs.Event
}

func TestMirrorSuite(t *testing.T) {
	suite.Run(t, new(MirrorSuite))
}

func (s *MirrorSuite) SetupTest() {
	s.producer = &recordingProducer{}
	s.mirror = NewMirror(s.producer, "accounts.domain-events", nil)
	s.event = cqrs.Event{
		ID:            id.NewEventID(),
		Type:          "CredentialDeleted",
		Payload:       samplePayload{CredentialID: id.NewCredentialID(), Reason: "compensation"},
		AggregateID:   "agg-1",
		CorrelationID: id.NewCorrelationID(),
		OccurredAt:    time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func (s *MirrorSuite) TestRecordIsKeyedByCorrelation() {
	s.Require().NoError(s.mirror.Handle(context.Background(), s.event))
	s.Require().Len(s.producer.records, 1)

	r := s.producer.records[0]
	s.Equal("accounts.domain-events", r.Topic)
	s.Equal(s.event.CorrelationID.String(), string(r.Key))
	s.Equal(s.event.OccurredAt, r.Timestamp)
	s.Require().Len(r.Headers, 1)
	s.Equal(EventTypeHeader, r.Headers[0].Key)
	s.Equal("CredentialDeleted", string(r.Headers[0].Value))
}

func (s *MirrorSuite) TestValueDecodesAsMessage() {
	s.Require().NoError(s.mirror.Handle(context.Background(), s.event))

	var msg Message
	s.Require().NoError(json.Unmarshal(s.producer.records[0].Value, &msg))
	s.Equal(s.event.ID, msg.ID)
	s.Equal(s.event.CorrelationID, msg.CorrelationID)
	s.Equal("CredentialDeleted", msg.Type)
	s.True(s.event.OccurredAt.Equal(msg.OccurredAt))

	var payload samplePayload
	s.Require().NoError(json.Unmarshal(msg.Payload, &payload))
	s.Equal("compensation", payload.Reason)
}

func (s *MirrorSuite) TestProduceFailureIsReturned() {
	s.producer.err = errors.New("broker down")

	err := s.mirror.Handle(context.Background(), s.event)
	s.Require().Error(err)
	s.ErrorContains(err, "broker down")
	s.Empty(s.producer.records)
}

func (s *MirrorSuite) TestBusKeepsDeliveringWhenMirrorFails() {
	s.producer.err = errors.New("broker down")
	bus := cqrs.NewBus()
	var seen int
	bus.SubscribeAll(s.mirror)
	bus.SubscribeAll(cqrs.SubscriberFunc(func(context.Context, cqrs.Event) error {
		seen++
		return nil
	}))

	err := bus.Publish(context.Background(), s.event)
	var delivery *cqrs.DeliveryError
	s.Require().ErrorAs(err, &delivery)
	s.Len(delivery.Failures, 1)
	s.Equal(1, seen)
}

func (s *MirrorSuite) TestBreakerSuspendsAndResumes() {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	breaker := circuit.New("kafka",
		circuit.WithFailureThreshold(2),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(time.Minute),
		circuit.WithClock(func() time.Time { return now }),
	)
	mirror := NewMirror(s.producer, "t", nil, WithBreaker(breaker))
	ctx := context.Background()

	s.producer.err = errors.New("broker down")
	s.Error(mirror.Handle(ctx, s.event))
	s.Error(mirror.Handle(ctx, s.event))
	s.True(breaker.IsOpen())

	s.producer.err = nil
	s.ErrorIs(mirror.Handle(ctx, s.event), ErrMirrorSuspended)
	s.Empty(s.producer.records)

	now = now.Add(time.Minute)
	s.Require().NoError(mirror.Handle(ctx, s.event))
	s.False(breaker.IsOpen())
	s.Len(s.producer.records, 1)
}

func (s *MirrorSuite) TestUnencodablePayloadFails() {
	s.event.Payload = make(chan int)

	err := s.mirror.Handle(context.Background(), s.event)
	s.Require().Error(err)
	s.Empty(s.producer.records)
}
