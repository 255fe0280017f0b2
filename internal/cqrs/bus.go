package cqrs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// DeliveryError collects subscriber failures for one published event.
// The publishing mutation has already happened when this is returned.
type DeliveryError struct {
	EventType string
	Failures  []error
}

func (e *DeliveryError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, err := range e.Failures {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("delivering %s: %d subscriber(s) failed: %s", e.EventType, len(e.Failures), strings.Join(msgs, "; "))
}

func (e *DeliveryError) Unwrap() []error {
	return e.Failures
}

// Bus delivers events synchronously. Subscribers for the event type run first,
// then catch-all subscribers, each group in registration order.
type Bus struct {
	mu       sync.RWMutex
	byType   map[string][]Subscriber
	catchAll []Subscriber

	logger  *slog.Logger
	metrics *Metrics
}

func NewBus(opts ...Option) *Bus {
	o := buildOptions(opts)
	return &Bus{
		byType:  make(map[string][]Subscriber),
		logger:  o.logger,
		metrics: o.metrics,
	}
}

func (b *Bus) Subscribe(eventType string, s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType[eventType] = append(b.byType[eventType], s)
}

// SubscribeAll registers s for every event type.
func (b *Bus) SubscribeAll(s Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.catchAll = append(b.catchAll, s)
}

// Publish delivers e to every matching subscriber before returning. A failing
// subscriber does not stop delivery to the others.
func (b *Bus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.byType[e.Type])+len(b.catchAll))
	subs = append(subs, b.byType[e.Type]...)
	subs = append(subs, b.catchAll...)
	b.mu.RUnlock()

	b.metrics.incPublished(e.Type)

	var failures []error
	for _, s := range subs {
		if err := deliver(ctx, s, e); err != nil {
			failures = append(failures, err)
			b.metrics.incDeliveryFailure(e.Type)
			b.logger.WarnContext(ctx, "event subscriber failed",
				"event", e.Type,
				"event_id", e.ID.String(),
				"correlation_id", e.CorrelationID.String(),
				"error", err,
			)
		}
	}
	if len(failures) > 0 {
		return &DeliveryError{EventType: e.Type, Failures: failures}
	}
	return nil
}

func deliver(ctx context.Context, s Subscriber, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return s.Handle(ctx, e)
}

// IsDeliveryError reports whether err only carries subscriber failures.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}
