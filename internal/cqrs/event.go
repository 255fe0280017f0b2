package cqrs

import (
	"context"
	"time"

	id "accounts/pkg/domain"
)

// Event is an immutable fact raised by a handler. Payload holds a typed struct
// owned by the raising module.
type Event struct {
	ID            id.EventID       `json:"id"`
	Type          string           `json:"type"`
	Payload       any              `json:"payload"`
	AggregateID   string           `json:"aggregate_id"`
	CorrelationID id.CorrelationID `json:"correlation_id"`
	OccurredAt    time.Time        `json:"occurred_at"`
}

// PayloadAs returns the payload as T, accepting both values and pointers.
func PayloadAs[T any](e Event) (T, bool) {
	switch p := e.Payload.(type) {
	case T:
		return p, true
	case *T:
		if p != nil {
			return *p, true
		}
	}
	var zero T
	return zero, false
}

// Subscriber receives events from the bus.
type Subscriber interface {
	Handle(ctx context.Context, e Event) error
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, e Event) error

func (f SubscriberFunc) Handle(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Publisher is the narrow view of the bus used by aggregates.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}
