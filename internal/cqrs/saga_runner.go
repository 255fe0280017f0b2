package cqrs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const dequeueBatchSize = 32

var ErrRunnerActive = errors.New("saga runner is already running")

// Saga reacts to events for the runs it owns. Handle is called from a single
// shard worker per correlation id, so events of one run arrive in order.
type Saga interface {
	Name() string
	EventTypes() []string
	Handle(ctx context.Context, e Event) error
}

// Sweeper turns expired runs into synthetic events.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) ([]Event, error)
}

// Subscribable is the registration side of the bus.
type Subscribable interface {
	Subscribe(eventType string, s Subscriber)
}

// SagaRunner feeds bus events to sagas on its own workers. The bus subscriber
// only enqueues, so handlers publishing from inside a saga step never wait on
// the saga itself.
type SagaRunner struct {
	bus Subscribable

	mu     sync.RWMutex
	routes map[string][]Saga

	shards  []*inbox
	pending atomic.Int64
	running atomic.Bool

	sweeper       Sweeper
	sweepInterval time.Duration

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

func NewSagaRunner(bus Subscribable, workers int, opts ...Option) *SagaRunner {
	if workers <= 0 {
		workers = 1
	}
	o := buildOptions(opts)
	r := &SagaRunner{
		bus:     bus,
		routes:  make(map[string][]Saga),
		shards:  make([]*inbox, workers),
		logger:  o.logger,
		metrics: o.metrics,
		tracer:  o.tracer,
		now:     o.now,
	}
	for i := range r.shards {
		r.shards[i] = newInbox(0)
	}
	return r
}

// Register routes the saga's event types to it, subscribing the runner on the
// bus the first time a type is seen.
func (r *SagaRunner) Register(s Saga) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, eventType := range s.EventTypes() {
		if _, seen := r.routes[eventType]; !seen {
			r.bus.Subscribe(eventType, SubscriberFunc(func(_ context.Context, e Event) error {
				r.Enqueue(e)
				return nil
			}))
		}
		r.routes[eventType] = append(r.routes[eventType], s)
	}
}

// SetSweeper enables the deadline sweep loop while Run is active.
func (r *SagaRunner) SetSweeper(s Sweeper, interval time.Duration) {
	r.sweeper = s
	r.sweepInterval = interval
}

// Enqueue queues e on the shard owning its correlation id.
func (r *SagaRunner) Enqueue(e Event) {
	r.pending.Add(1)
	r.metrics.addInboxDepth(1)
	r.shardFor(e).Push(e)
}

func (r *SagaRunner) shardFor(e Event) *inbox {
	h := xxhash.Sum64String(e.CorrelationID.String())
	return r.shards[h%uint64(len(r.shards))]
}

// Run starts one worker per shard plus the sweeper and blocks until ctx is done.
func (r *SagaRunner) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrRunnerActive
	}
	defer r.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range r.shards {
		g.Go(func() error {
			r.work(gctx, q)
			return nil
		})
	}
	if r.sweeper != nil && r.sweepInterval > 0 {
		g.Go(func() error {
			r.sweepLoop(gctx)
			return nil
		})
	}
	return g.Wait()
}

func (r *SagaRunner) work(ctx context.Context, q *inbox) {
	for {
		batch := q.DequeueBatch(dequeueBatchSize)
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-q.notify:
				continue
			}
		}
		for _, e := range batch {
			r.process(ctx, e)
		}
	}
}

func (r *SagaRunner) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "saga deadline sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce enqueues the sweeper's events and returns how many were queued.
func (r *SagaRunner) SweepOnce(ctx context.Context) (int, error) {
	if r.sweeper == nil {
		return 0, nil
	}
	events, err := r.sweeper.Sweep(ctx, r.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired runs: %w", err)
	}
	for _, e := range events {
		r.Enqueue(e)
	}
	return len(events), nil
}

func (r *SagaRunner) process(ctx context.Context, e Event) {
	defer func() {
		r.pending.Add(-1)
		r.metrics.addInboxDepth(-1)
	}()

	r.mu.RLock()
	sagas := append([]Saga(nil), r.routes[e.Type]...)
	r.mu.RUnlock()

	for _, s := range sagas {
		r.step(ctx, s, e)
	}
}

func (r *SagaRunner) step(ctx context.Context, s Saga, e Event) {
	ctx, span := r.tracer.Start(ctx, "saga.handle "+s.Name(),
		trace.WithAttributes(
			attribute.String("saga", s.Name()),
			attribute.String("event.type", e.Type),
			attribute.String("correlation_id", e.CorrelationID.String()),
		))
	defer span.End()

	err := r.safeHandle(ctx, s, e)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.incSagaStep(s.Name(), "error")
		r.logger.ErrorContext(ctx, "saga step failed",
			"saga", s.Name(),
			"event", e.Type,
			"correlation_id", e.CorrelationID.String(),
			"error", err,
		)
		return
	}
	r.metrics.incSagaStep(s.Name(), "ok")
}

func (r *SagaRunner) safeHandle(ctx context.Context, s Saga, e Event) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("saga %s panicked: %v", s.Name(), rec)
		}
	}()
	return s.Handle(ctx, e)
}

// Drain processes queued events on the calling goroutine until every shard is
// empty, including events raised while draining. It cannot be used while Run
// is active.
func (r *SagaRunner) Drain(ctx context.Context) error {
	if r.running.Load() {
		return ErrRunnerActive
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progressed := false
		for _, q := range r.shards {
			for _, e := range q.DequeueBatch(dequeueBatchSize) {
				progressed = true
				r.process(ctx, e)
			}
		}
		if !progressed {
			return nil
		}
	}
}

// WaitIdle blocks until no queued or in-flight events remain.
func (r *SagaRunner) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for r.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Pending reports queued plus in-flight events.
func (r *SagaRunner) Pending() int64 {
	return r.pending.Load()
}
