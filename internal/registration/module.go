package registration

import (
	"log/slog"
	"time"

	"accounts/internal/cqrs"
	"accounts/internal/credential"
	"accounts/internal/platform/metrics"
	"accounts/internal/profile"
	"accounts/pkg/platform/audit"
)

// Deps are the collaborators of the registration workflows.
type Deps struct {
	Credentials credential.Store
	Profiles    profile.Store
	Runs        RunStore
	Audit       audit.Store
	Emails      EmailProtector
	Hasher      PasswordHasher
	Faults      FaultHook

	Logger      *slog.Logger
	CQRSMetrics *cqrs.Metrics
	Metrics     *metrics.Metrics

	Workers       int
	RunTimeout    time.Duration
	SweepInterval time.Duration
	SweepBatch    int
	Clock         func() time.Time
}

// Module is the wired command side: dispatcher, bus, saga runner and the
// service in front of them.
type Module struct {
	Bus        *cqrs.Bus
	Dispatcher *cqrs.Dispatcher
	Runner     *cqrs.SagaRunner
	Service    *Service
}

// NewModule registers the four handlers, both sagas and the deadline sweeper.
// The audit trail is the first catch-all subscriber on the bus.
func NewModule(deps Deps) *Module {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cqrsOpts := []cqrs.Option{
		cqrs.WithLogger(logger),
		cqrs.WithMetrics(deps.CQRSMetrics),
		cqrs.WithClock(clock),
	}

	bus := cqrs.NewBus(cqrsOpts...)
	dispatcher := cqrs.NewDispatcher(cqrsOpts...)
	runner := cqrs.NewSagaRunner(bus, deps.Workers, cqrsOpts...)

	if deps.Audit != nil {
		bus.SubscribeAll(NewAuditTrail(deps.Audit))
	}

	dispatcher.MustRegister(CmdCreateCredential, NewCreateCredentialHandler(deps.Credentials, deps.Emails, bus, logger))
	dispatcher.MustRegister(CmdCreateProfile, NewCreateProfileHandler(deps.Profiles, deps.Credentials, deps.Faults, bus, logger))
	dispatcher.MustRegister(CmdDeleteCredential, NewDeleteCredentialHandler(deps.Credentials, bus, logger))
	dispatcher.MustRegister(CmdDeleteProfile, NewDeleteProfileHandler(deps.Profiles, bus, logger))

	sagaOpts := []SagaOption{
		WithSagaLogger(logger),
		WithSagaMetrics(deps.CQRSMetrics),
		WithRunTimeout(deps.RunTimeout),
		WithSagaClock(clock),
	}
	if deps.Audit != nil {
		sagaOpts = append(sagaOpts, WithSagaAudit(deps.Audit))
	}
	runner.Register(NewRegistrationSaga(deps.Runs, dispatcher, sagaOpts...))
	runner.Register(NewDeletionSaga(deps.Runs, dispatcher, sagaOpts...))
	runner.SetSweeper(NewDeadlineSweeper(deps.Runs, deps.SweepBatch), deps.SweepInterval)

	svcOpts := []Option{
		WithLogger(logger),
		WithMetrics(deps.Metrics),
		WithRunDeadline(deps.RunTimeout),
		WithClock(clock),
	}
	if deps.Audit != nil {
		svcOpts = append(svcOpts, WithAuditReader(deps.Audit))
	}
	return &Module{
		Bus:        bus,
		Dispatcher: dispatcher,
		Runner:     runner,
		Service:    NewService(dispatcher, deps.Credentials, deps.Profiles, deps.Runs, deps.Hasher, svcOpts...),
	}
}
