package registration

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"accounts/internal/cqrs"
	"accounts/internal/registration/models"
	"accounts/internal/registration/store/run"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/audit"
	"accounts/pkg/platform/sentinel"
)

//go:generate mockgen -source=saga.go -destination=mocks/mocks.go -package=mocks RunStore

// RunStore persists saga runs. Save is a compare-and-set on the stored state
// and returns run.ErrStaleState when the guard does not hold.
type RunStore interface {
	Get(ctx context.Context, correlationID id.CorrelationID) (*models.Run, error)
	Save(ctx context.Context, r models.Run, expected models.State) error
	Expired(ctx context.Context, now time.Time, limit int) ([]models.Run, error)
	AddDeadLetter(ctx context.Context, dl models.DeadLetter) error
	DeadLetters(ctx context.Context) ([]models.DeadLetter, error)
}

// AuditRecorder appends to the audit trail.
type AuditRecorder interface {
	Append(ctx context.Context, event audit.Event) error
}

// sagaBase holds what both sagas share: the run store, the dispatcher used for
// follow-up commands and the dead-letter path.
type sagaBase struct {
	name       string
	runs       RunStore
	dispatcher cqrs.CommandSender
	audit      AuditRecorder
	metrics    *cqrs.Metrics
	logger     *slog.Logger
	timeout    time.Duration
	now        func() time.Time
}

// SagaOption configures the sagas.
type SagaOption func(*sagaBase)

func WithSagaLogger(logger *slog.Logger) SagaOption {
	return func(b *sagaBase) {
		if logger != nil {
			b.logger = logger
		}
	}
}

func WithSagaMetrics(m *cqrs.Metrics) SagaOption {
	return func(b *sagaBase) { b.metrics = m }
}

func WithSagaAudit(a AuditRecorder) SagaOption {
	return func(b *sagaBase) { b.audit = a }
}

// WithRunTimeout sets how long a run may wait in a non-terminal state.
func WithRunTimeout(d time.Duration) SagaOption {
	return func(b *sagaBase) {
		if d > 0 {
			b.timeout = d
		}
	}
}

func WithSagaClock(now func() time.Time) SagaOption {
	return func(b *sagaBase) {
		if now != nil {
			b.now = now
		}
	}
}

func newSagaBase(name string, runs RunStore, dispatcher cqrs.CommandSender, opts []SagaOption) sagaBase {
	b := sagaBase{
		name:       name,
		runs:       runs,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		timeout:    30 * time.Second,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}

func (b *sagaBase) Name() string { return b.name }

// load returns the run owned by this saga, or nil when there is none.
func (b *sagaBase) load(ctx context.Context, correlationID id.CorrelationID) (*models.Run, error) {
	r, err := b.runs.Get(ctx, correlationID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if r.Saga != b.name {
		return nil, nil
	}
	return r, nil
}

// transition moves r from its current state to next. A stale guard means the
// event was a duplicate or lost a race; it is dropped.
func (b *sagaBase) transition(ctx context.Context, r models.Run, next models.State, mutate func(*models.Run)) (models.Run, bool, error) {
	updated := r
	updated.State = next
	updated.UpdatedAt = b.now()
	if mutate != nil {
		mutate(&updated)
	}
	if err := b.runs.Save(ctx, updated, r.State); err != nil {
		if errors.Is(err, run.ErrStaleState) {
			b.logger.DebugContext(ctx, "saga transition skipped",
				"saga", b.name,
				"correlation_id", r.CorrelationID.String(),
				"from", string(r.State),
				"to", string(next),
			)
			return r, false, nil
		}
		return r, false, err
	}
	b.logger.InfoContext(ctx, "saga transition",
		"saga", b.name,
		"correlation_id", r.CorrelationID.String(),
		"from", string(r.State),
		"to", string(next),
	)
	return updated, true, nil
}

// start creates the run. ok is false when a run already exists for the
// correlation id.
func (b *sagaBase) start(ctx context.Context, r models.Run) (bool, error) {
	now := b.now()
	r.Saga = b.name
	r.StartedAt = now
	r.UpdatedAt = now
	r.Deadline = now.Add(b.timeout)
	if err := b.runs.Save(ctx, r, ""); err != nil {
		if errors.Is(err, run.ErrStaleState) {
			return false, nil
		}
		return false, err
	}
	b.logger.InfoContext(ctx, "saga started",
		"saga", b.name,
		"correlation_id", r.CorrelationID.String(),
		"state", string(r.State),
	)
	return true, nil
}

// begin starts r, or moves a run recorded as pending by the service into r's
// state. ok is false when the run is already past pending.
func (b *sagaBase) begin(ctx context.Context, r models.Run) (bool, error) {
	started, err := b.start(ctx, r)
	if err != nil || started {
		return started, err
	}
	pending, err := b.load(ctx, r.CorrelationID)
	if err != nil || pending == nil || pending.State != models.StatePending {
		return false, err
	}
	_, ok, err := b.transition(ctx, *pending, r.State, func(u *models.Run) {
		u.Deadline = u.UpdatedAt.Add(b.timeout)
	})
	return ok, err
}

// fail ends the run in CompensationFailed and dead-letters it. There is no
// automatic retry.
func (b *sagaBase) fail(ctx context.Context, r models.Run, cause string) error {
	failed, ok, err := b.transition(ctx, r, models.StateCompensationFailed, func(u *models.Run) {
		u.Reason = cause
	})
	if err != nil || !ok {
		return err
	}

	if err := b.runs.AddDeadLetter(ctx, models.DeadLetter{Run: failed, Cause: cause, At: failed.UpdatedAt}); err != nil {
		b.logger.ErrorContext(ctx, "failed to store dead letter",
			"saga", b.name,
			"correlation_id", r.CorrelationID.String(),
			"error", err,
		)
	}
	b.metrics.IncDeadLetter(b.name)
	b.logger.ErrorContext(ctx, "saga dead-lettered, manual intervention required",
		"saga", b.name,
		"correlation_id", r.CorrelationID.String(),
		"credential_id", r.CredentialID.String(),
		"profile_id", r.ProfileID.String(),
		"from", string(r.State),
		"cause", cause,
	)
	if b.audit != nil {
		if err := b.audit.Append(ctx, audit.Event{
			CorrelationID: r.CorrelationID,
			Action:        audit.EventSagaDeadLettered,
			Subject:       r.CredentialID.String(),
			Reason:        cause,
			Timestamp:     failed.UpdatedAt,
		}); err != nil {
			b.logger.WarnContext(ctx, "failed to audit dead letter", "error", err)
		}
	}
	return nil
}

// deadlineFor reports whether e is a live deadline for r: a deadline captured
// before the run moved on is stale.
func (b *sagaBase) deadlineFor(ctx context.Context, e cqrs.Event) (*models.Run, error) {
	p, ok := cqrs.PayloadAs[RunDeadlineExceeded](e)
	if !ok || p.Saga != b.name {
		return nil, nil
	}
	r, err := b.load(ctx, p.CorrelationID)
	if err != nil || r == nil {
		return nil, err
	}
	if r.IsTerminal() || !r.Deadline.Equal(p.Deadline) {
		return nil, nil
	}
	return r, nil
}
