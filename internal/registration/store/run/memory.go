package run

import (
	"context"
	"sort"
	"sync"
	"time"

	"accounts/internal/registration/models"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/sentinel"
)

type entry struct {
	run       models.Run
	expiresAt time.Time // zero while the run is active
}

// InMemory keeps runs in a map; terminal runs expire after the retention window.
type InMemory struct {
	mu          sync.Mutex
	runs        map[id.CorrelationID]entry
	deadLetters []models.DeadLetter
	retention   time.Duration
	clock       func() time.Time
}

type InMemoryOption func(*InMemory)

func WithClock(clock func() time.Time) InMemoryOption {
	return func(s *InMemory) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemory(retention time.Duration, opts ...InMemoryOption) *InMemory {
	s := &InMemory{
		runs:      make(map[id.CorrelationID]entry),
		retention: retention,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemory) Get(_ context.Context, correlationID id.CorrelationID) (*models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(correlationID)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	r := e.run
	return &r, nil
}

func (s *InMemory) Save(_ context.Context, r models.Run, expected models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.live(r.CorrelationID)
	switch {
	case expected == "" && exists:
		return ErrStaleState
	case expected != "" && (!exists || current.run.State != expected):
		return ErrStaleState
	}

	e := entry{run: r}
	if r.IsTerminal() {
		e.expiresAt = s.clock().Add(s.retention)
	}
	s.runs[r.CorrelationID] = e
	return nil
}

// Expired returns active runs whose deadline is at or before now, oldest first.
// Terminal runs past retention are purged on the way, since the sweeper calls
// this on every tick.
func (s *InMemory) Expired(_ context.Context, now time.Time, limit int) ([]models.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Run
	for corr := range s.runs {
		e, ok := s.live(corr)
		if ok && !e.run.IsTerminal() && !e.run.Deadline.After(now) {
			out = append(out, e.run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.Before(out[j].Deadline) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) AddDeadLetter(_ context.Context, dl models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

// DeadLetters returns the newest first.
func (s *InMemory) DeadLetters(_ context.Context) ([]models.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.DeadLetter, len(s.deadLetters))
	for i, dl := range s.deadLetters {
		out[len(out)-1-i] = dl
	}
	return out, nil
}

// live returns the entry unless it is a terminal run past retention, which is
// dropped as a side effect. Caller holds mu.
func (s *InMemory) live(correlationID id.CorrelationID) (entry, bool) {
	e, ok := s.runs[correlationID]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.clock().Before(e.expiresAt) {
		delete(s.runs, correlationID)
		return entry{}, false
	}
	return e, true
}
