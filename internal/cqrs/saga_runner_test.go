package cqrs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "accounts/pkg/domain"
)

// echoSaga dispatches a follow-up "Pong" through the bus for each "Ping",
// exercising publish-from-inside-a-step.
type echoSaga struct {
	bus *Bus

	mu   sync.Mutex
	seen map[id.CorrelationID][]string
}

func (s *echoSaga) Name() string         { return "echo" }
func (s *echoSaga) EventTypes() []string { return []string{"Ping", "Pong", "Expired"} }

func (s *echoSaga) Handle(ctx context.Context, e Event) error {
	s.mu.Lock()
	s.seen[e.CorrelationID] = append(s.seen[e.CorrelationID], e.Type)
	s.mu.Unlock()

	if e.Type == "Ping" {
		agg := NewAggregate(s.bus, e.AggregateID, e.CorrelationID)
		agg.Apply(ctx, "Pong", nil)
		return agg.Commit(ctx)
	}
	return nil
}

func (s *echoSaga) eventsFor(corr id.CorrelationID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.seen[corr]...)
}

type staticSweeper struct {
	events []Event
	calls  int
}

func (s *staticSweeper) Sweep(context.Context, time.Time) ([]Event, error) {
	s.calls++
	out := s.events
	s.events = nil
	return out, nil
}

type SagaRunnerSuite struct {
	suite.Suite
	bus    *Bus
	saga   *echoSaga
	runner *SagaRunner
}

func TestSagaRunnerSuite(t *testing.T) {
	suite.Run(t, new(SagaRunnerSuite))
}

func (s *SagaRunnerSuite) SetupTest() {
	s.bus = NewBus()
	s.saga = &echoSaga{bus: s.bus, seen: make(map[id.CorrelationID][]string)}
	s.runner = NewSagaRunner(s.bus, 4)
	s.runner.Register(s.saga)
}

func (s *SagaRunnerSuite) publishPing(corr id.CorrelationID) {
	agg := NewAggregate(s.bus, "agg", corr)
	agg.Apply(context.Background(), "Ping", nil)
	s.Require().NoError(agg.Commit(context.Background()))
}

func (s *SagaRunnerSuite) TestPublishOnlyEnqueues() {
	corr := id.NewCorrelationID()
	s.publishPing(corr)

	s.Empty(s.saga.eventsFor(corr))
	s.Equal(int64(1), s.runner.Pending())
}

func (s *SagaRunnerSuite) TestDrainProcessesFollowUps() {
	corr := id.NewCorrelationID()
	s.publishPing(corr)

	s.Require().NoError(s.runner.Drain(context.Background()))
	s.Equal([]string{"Ping", "Pong"}, s.saga.eventsFor(corr))
	s.Zero(s.runner.Pending())
}

func (s *SagaRunnerSuite) TestRunProcessesConcurrentRunsInOrder() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.runner.Run(ctx) }()

	corrs := make([]id.CorrelationID, 50)
	var wg sync.WaitGroup
	for i := range corrs {
		corrs[i] = id.NewCorrelationID()
		wg.Add(1)
		go func(corr id.CorrelationID) {
			defer wg.Done()
			s.publishPing(corr)
		}(corrs[i])
	}
	wg.Wait()

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancel()
	s.Require().NoError(s.runner.WaitIdle(waitCtx))

	for _, corr := range corrs {
		s.Equal([]string{"Ping", "Pong"}, s.saga.eventsFor(corr))
	}

	s.ErrorIs(s.runner.Drain(context.Background()), ErrRunnerActive)
	cancel()
	s.NoError(<-done)
}

func (s *SagaRunnerSuite) TestSweepOnceEnqueuesSweeperEvents() {
	corr := id.NewCorrelationID()
	sweeper := &staticSweeper{events: []Event{{Type: "Expired", CorrelationID: corr}}}
	s.runner.SetSweeper(sweeper, time.Second)

	n, err := s.runner.SweepOnce(context.Background())
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Require().NoError(s.runner.Drain(context.Background()))
	s.Equal([]string{"Expired"}, s.saga.eventsFor(corr))
}

func (s *SagaRunnerSuite) TestSagaPanicIsContained() {
	bus := NewBus()
	runner := NewSagaRunner(bus, 1)
	runner.Register(&panicSaga{})
	s.Require().NoError(bus.Publish(context.Background(), Event{Type: "Boom"}))

	s.NotPanics(func() {
		s.Require().NoError(runner.Drain(context.Background()))
	})
	s.Zero(runner.Pending())
}

type panicSaga struct{}

func (panicSaga) Name() string                        { return "panic" }
func (panicSaga) EventTypes() []string                { return []string{"Boom"} }
func (panicSaga) Handle(context.Context, Event) error { panic("boom") }

func TestInboxGrowsAndKeepsOrder(t *testing.T) {
	q := newInbox(2)
	for i := 0; i < 5; i++ {
		q.Push(Event{AggregateID: string(rune('a' + i))})
	}
	first := q.DequeueBatch(2)
	q.Push(Event{AggregateID: "f"})
	rest := q.DequeueBatch(10)

	var got []string
	for _, e := range append(first, rest...) {
		got = append(got, e.AggregateID)
	}
	if want := []string{"a", "b", "c", "d", "e", "f"}; len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty inbox, got %d", q.Len())
	}
}
