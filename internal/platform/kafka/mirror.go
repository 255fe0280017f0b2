package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"accounts/internal/cqrs"
	"accounts/pkg/platform/circuit"
)

// EventTypeHeader carries the domain event type on every mirrored record.
const EventTypeHeader = "event_type"

// ErrMirrorSuspended is returned while the breaker is open and no probe is due.
var ErrMirrorSuspended = errors.New("kafka mirror suspended")

// Producer is the subset of *kgo.Client the mirror needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Mirror copies every published domain event to a Kafka topic. Records are
// keyed by correlation id so one saga run stays on one partition.
type Mirror struct {
	producer Producer
	topic    string
	logger   *slog.Logger
	breaker  *circuit.Breaker
}

type MirrorOption func(*Mirror)

// WithBreaker stops producing while the broker keeps failing, so commands do
// not each wait out a produce timeout.
func WithBreaker(b *circuit.Breaker) MirrorOption {
	return func(m *Mirror) {
		m.breaker = b
	}
}

func NewMirror(producer Producer, topic string, logger *slog.Logger, opts ...MirrorOption) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mirror{producer: producer, topic: topic, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Handle implements cqrs.Subscriber. Errors are reported to the bus, which
// logs them without failing the publishing command.
func (m *Mirror) Handle(ctx context.Context, e cqrs.Event) error {
	record, err := m.record(e)
	if err != nil {
		return err
	}
	if m.breaker != nil && !m.breaker.Allow() {
		return fmt.Errorf("mirror %s: %w", e.Type, ErrMirrorSuspended)
	}
	err = m.producer.ProduceSync(ctx, record).FirstErr()
	m.track(ctx, err)
	if err != nil {
		return fmt.Errorf("mirror %s to %s: %w", e.Type, m.topic, err)
	}

	m.logger.DebugContext(ctx, "mirrored event",
		"event_type", e.Type,
		"correlation_id", e.CorrelationID.String(),
		"topic", m.topic,
	)
	return nil
}

func (m *Mirror) track(ctx context.Context, err error) {
	if m.breaker == nil {
		return
	}
	if err != nil {
		if _, change := m.breaker.RecordFailure(); change.Opened {
			m.logger.ErrorContext(ctx, "kafka mirror suspended after repeated failures",
				"topic", m.topic,
				"error", err,
			)
		}
		return
	}
	if _, change := m.breaker.RecordSuccess(); change.Closed {
		m.logger.InfoContext(ctx, "kafka mirror resumed", "topic", m.topic)
	}
}

func (m *Mirror) record(e cqrs.Event) (*kgo.Record, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.Type, err)
	}
	return &kgo.Record{
		Topic:     m.topic,
		Key:       []byte(e.CorrelationID.String()),
		Value:     value,
		Timestamp: e.OccurredAt,
		Headers: []kgo.RecordHeader{
			{Key: EventTypeHeader, Value: []byte(e.Type)},
		},
	}, nil
}
