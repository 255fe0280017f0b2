package cqrs

import (
	"context"
	"errors"
	"sync"

	id "accounts/pkg/domain"
	"accounts/pkg/requestcontext"
)

// Aggregate buffers the events of one apply/commit cycle. It is created per
// command, publishes through the bus it was built with, and is discarded after
// Commit. Nothing is persisted.
type Aggregate struct {
	mu            sync.Mutex
	bus           Publisher
	aggregateID   string
	correlationID id.CorrelationID
	reducers      map[string]func(Event)
	uncommitted   []Event
	committed     bool
}

func NewAggregate(bus Publisher, aggregateID string, correlationID id.CorrelationID) *Aggregate {
	return &Aggregate{
		bus:           bus,
		aggregateID:   aggregateID,
		correlationID: correlationID,
		reducers:      make(map[string]func(Event)),
	}
}

// On registers a local reducer run synchronously by Apply.
func (a *Aggregate) On(eventType string, reducer func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reducers[eventType] = reducer
}

// Apply records a new uncommitted event stamped with the request time.
func (a *Aggregate) Apply(ctx context.Context, eventType string, payload any) Event {
	e := Event{
		ID:            id.NewEventID(),
		Type:          eventType,
		Payload:       payload,
		AggregateID:   a.aggregateID,
		CorrelationID: a.correlationID,
		OccurredAt:    requestcontext.Now(ctx),
	}

	a.mu.Lock()
	a.uncommitted = append(a.uncommitted, e)
	a.committed = false
	reducer := a.reducers[eventType]
	a.mu.Unlock()

	if reducer != nil {
		reducer(e)
	}
	return e
}

// Uncommitted returns a copy of the pending events in apply order.
func (a *Aggregate) Uncommitted() []Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Event(nil), a.uncommitted...)
}

// Commit publishes pending events in apply order and clears them. All events
// are published even if one delivery fails; failures are joined.
func (a *Aggregate) Commit(ctx context.Context) error {
	a.mu.Lock()
	if len(a.uncommitted) == 0 {
		committed := a.committed
		a.mu.Unlock()
		if committed {
			return ErrAlreadyCommitted
		}
		return nil
	}
	pending := a.uncommitted
	a.uncommitted = nil
	a.committed = true
	a.mu.Unlock()

	var errs []error
	for _, e := range pending {
		if err := a.bus.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
