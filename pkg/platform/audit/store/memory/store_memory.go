package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	id "accounts/pkg/domain"
	audit "accounts/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.CorrelationID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.CorrelationID][]audit.Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	event = event.Normalize(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.CorrelationID] = append(s.events[event.CorrelationID], event)
	return nil
}

// ListByCorrelation returns the trail in timestamp order, ties in append order.
func (s *InMemoryStore) ListByCorrelation(_ context.Context, correlationID id.CorrelationID) ([]audit.Event, error) {
	s.mu.RLock()
	out := append([]audit.Event{}, s.events[correlationID]...)
	s.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ListAll returns every stored event, used by tests.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var all []audit.Event
	for _, events := range s.events {
		all = append(all, events...)
	}
	return all, nil
}
