// Package cqrs holds the in-process write-side plumbing for account workflows:
// a command dispatcher with one handler per command type, a synchronous event
// bus, a transient aggregate that buffers events until commit, and a saga
// runner that reacts to published events on its own workers.
package cqrs

import (
	"context"
	"errors"

	id "accounts/pkg/domain"
)

var (
	ErrNoHandlerRegistered      = errors.New("no handler registered for command")
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for command")
	ErrAlreadyCommitted         = errors.New("aggregate already committed")
)

// Command is an immutable request to change state.
type Command interface {
	CommandType() string
	Correlation() id.CorrelationID
}

// Result is what the handler of a top-level command reports back to the caller.
// Work triggered downstream by the committed events is not reflected here.
type Result struct {
	AggregateID string
	Events      []Event
}

// Handler executes exactly one command type.
type Handler interface {
	Handle(ctx context.Context, cmd Command) (Result, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, cmd Command) (Result, error)

func (f HandlerFunc) Handle(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// CommandSender is the narrow view of the dispatcher that sagas and services use.
type CommandSender interface {
	Dispatch(ctx context.Context, cmd Command) (Result, error)
}
