package cqrs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher routes each command to the single handler registered for its type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler

	logger  *slog.Logger
	metrics *Metrics
	tracer  trace.Tracer
}

func NewDispatcher(opts ...Option) *Dispatcher {
	o := buildOptions(opts)
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   o.logger,
		metrics:  o.metrics,
		tracer:   o.tracer,
	}
}

// Register binds h to commandType. A type can only be bound once.
func (d *Dispatcher) Register(commandType string, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.handlers[commandType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, commandType)
	}
	d.handlers[commandType] = h
	return nil
}

// MustRegister panics on duplicate registration. Used during wiring.
func (d *Dispatcher) MustRegister(commandType string, h Handler) {
	if err := d.Register(commandType, h); err != nil {
		panic(err)
	}
}

// Dispatch runs the handler for cmd and returns its result. Saga steps triggered
// by the events it commits run later on the saga runner.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (Result, error) {
	commandType := cmd.CommandType()

	d.mu.RLock()
	h, ok := d.handlers[commandType]
	d.mu.RUnlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoHandlerRegistered, commandType)
	}

	ctx, span := d.tracer.Start(ctx, "cqrs.dispatch "+commandType,
		trace.WithAttributes(
			attribute.String("command.type", commandType),
			attribute.String("correlation_id", cmd.Correlation().String()),
		))
	defer span.End()

	start := time.Now()
	res, err := h.Handle(ctx, cmd)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.metrics.observeDispatch(commandType, outcome, start)
	d.logger.DebugContext(ctx, "command dispatched",
		"command", commandType,
		"correlation_id", cmd.Correlation().String(),
		"outcome", outcome,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, err
}
