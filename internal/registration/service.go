package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"accounts/internal/cqrs"
	"accounts/internal/credential"
	"accounts/internal/platform/metrics"
	"accounts/internal/profile"
	"accounts/internal/registration/models"
	"accounts/internal/registration/store/run"
	id "accounts/pkg/domain"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/email"
	"accounts/pkg/platform/audit"
	"accounts/pkg/platform/sentinel"
)

const (
	msgRegistrationStarted = "Registration process started."
	msgDeletionStarted     = "Account deletion started."
)

type PasswordHasher interface {
	Hash(password string) (string, error)
}

// AuditReader lists the audit trail of one workflow.
type AuditReader interface {
	ListByCorrelation(ctx context.Context, correlationID id.CorrelationID) ([]audit.Event, error)
}

// RegistrationRequest registers an account with a password.
type RegistrationRequest struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,max=72"`
	Name     string `validate:"required,max=100"`
	Lastname string `validate:"required,max=100"`
	Age      int    `validate:"gte=0,lte=150"`
}

// ExternalRegistrationRequest registers an account authenticated by an
// external identity provider. The credential has no password. A blank name or
// lastname is derived from the email local part.
type ExternalRegistrationRequest struct {
	Email      string `validate:"required,email,max=254"`
	ExternalID string `validate:"required,max=255"`
	Name       string `validate:"max=100"`
	Lastname   string `validate:"max=100"`
	Age        int    `validate:"gte=0,lte=150"`
}

// Accepted means the workflow started, not that it finished. Its outcome is
// reported by Status under CorrelationID.
type Accepted struct {
	Message       string           `json:"message"`
	CredentialID  id.CredentialID  `json:"credential_id"`
	ProfileID     id.ProfileID     `json:"profile_id"`
	CorrelationID id.CorrelationID `json:"correlation_id"`
}

// RunStatus is a saga run with the audit trail of its correlation id.
type RunStatus struct {
	Run   models.Run    `json:"run"`
	Trail []audit.Event `json:"trail"`
}

// Service is the upward API of the registration workflows.
type Service struct {
	dispatcher  cqrs.CommandSender
	credentials credential.Store
	profiles    profile.Store
	runs        RunStore
	audit       AuditReader
	hasher      PasswordHasher
	metrics     *metrics.Metrics
	logger      *slog.Logger
	validate    *validator.Validate
	runTimeout  time.Duration
	now         func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithAuditReader(r AuditReader) Option {
	return func(s *Service) { s.audit = r }
}

// WithRunDeadline sets how long a pending run waits for its saga to pick it up.
func WithRunDeadline(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.runTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(
	dispatcher cqrs.CommandSender,
	credentials credential.Store,
	profiles profile.Store,
	runs RunStore,
	hasher PasswordHasher,
	opts ...Option,
) *Service {
	s := &Service{
		dispatcher:  dispatcher,
		credentials: credentials,
		profiles:    profiles,
		runs:        runs,
		hasher:      hasher,
		logger:      slog.Default(),
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		runTimeout:  30 * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register starts the registration saga. It returns once the credential is
// stored; profile creation continues asynchronously.
func (s *Service) Register(ctx context.Context, req RegistrationRequest) (*Accepted, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	req.Lastname = strings.TrimSpace(req.Lastname)
	if err := s.check(req); err != nil {
		s.metrics.IncrementRegistrationsRejected(string(dErrors.CodeValidation))
		return nil, err
	}
	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to hash password")
	}
	return s.start(ctx, CreateCredential{
		Email:        req.Email,
		PasswordHash: hash,
		Roles:        []string{credential.RoleUser},
		Profile: ProfileDraft{
			Name:     req.Name,
			Lastname: req.Lastname,
			Age:      req.Age,
			Role:     credential.RoleUser,
		},
	})
}

// RegisterExternal starts the registration saga for an externally
// authenticated identity.
func (s *Service) RegisterExternal(ctx context.Context, req ExternalRegistrationRequest) (*Accepted, error) {
	req.Email = strings.TrimSpace(req.Email)
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	req.Name = strings.TrimSpace(req.Name)
	req.Lastname = strings.TrimSpace(req.Lastname)
	if err := s.check(req); err != nil {
		s.metrics.IncrementRegistrationsRejected(string(dErrors.CodeValidation))
		return nil, err
	}
	if req.Name == "" || req.Lastname == "" {
		first, last := email.DeriveNameFromEmail(req.Email)
		if req.Name == "" {
			req.Name = first
		}
		if req.Lastname == "" {
			req.Lastname = last
		}
	}
	return s.start(ctx, CreateCredential{
		Email:      req.Email,
		ExternalID: req.ExternalID,
		Roles:      []string{credential.RoleUser},
		Profile: ProfileDraft{
			Name:     req.Name,
			Lastname: req.Lastname,
			Age:      req.Age,
			Role:     credential.RoleUser,
		},
	})
}

func (s *Service) start(ctx context.Context, cmd CreateCredential) (*Accepted, error) {
	cmd.CorrelationID = id.NewCorrelationID()
	cmd.CredentialID = id.NewCredentialID()
	cmd.ProfileID = id.NewProfileID()

	if _, err := s.dispatcher.Dispatch(ctx, cmd); err != nil {
		s.metrics.IncrementRegistrationsRejected(string(dErrors.CodeOf(err)))
		return nil, err
	}
	s.metrics.IncrementRegistrationsAccepted()
	s.recordPending(ctx, models.Run{
		CorrelationID: cmd.CorrelationID,
		Saga:          models.SagaRegistration,
		CredentialID:  cmd.CredentialID,
		ProfileID:     cmd.ProfileID,
	})
	s.logger.InfoContext(ctx, "registration process started",
		"correlation_id", cmd.CorrelationID.String(),
		"credential_id", cmd.CredentialID.String(),
		"profile_id", cmd.ProfileID.String(),
	)
	return &Accepted{
		Message:       msgRegistrationStarted,
		CredentialID:  cmd.CredentialID,
		ProfileID:     cmd.ProfileID,
		CorrelationID: cmd.CorrelationID,
	}, nil
}

// DeleteAccount starts the deletion saga. Both the credential and its profile
// must exist.
func (s *Service) DeleteAccount(ctx context.Context, credentialID id.CredentialID) (*Accepted, error) {
	if _, err := s.credentials.FindByID(ctx, credentialID, false); err != nil {
		return nil, translate(err, "account not found")
	}
	prof, err := s.profiles.FindByCredentialID(ctx, credentialID)
	if err != nil {
		return nil, translate(err, "account not found")
	}

	correlationID := id.NewCorrelationID()
	if _, err := s.dispatcher.Dispatch(ctx, DeleteCredential{
		CorrelationID: correlationID,
		CredentialID:  credentialID,
		ProfileID:     prof.ID,
		Reason:        ReasonAccountDeletion,
	}); err != nil {
		return nil, err
	}
	s.metrics.IncrementAccountsDeleted()
	s.recordPending(ctx, models.Run{
		CorrelationID: correlationID,
		Saga:          models.SagaDeletion,
		CredentialID:  credentialID,
		ProfileID:     prof.ID,
	})
	s.logger.InfoContext(ctx, "account deletion started",
		"correlation_id", correlationID.String(),
		"credential_id", credentialID.String(),
		"profile_id", prof.ID.String(),
	)
	return &Accepted{
		Message:       msgDeletionStarted,
		CredentialID:  credentialID,
		ProfileID:     prof.ID,
		CorrelationID: correlationID,
	}, nil
}

// recordPending makes an accepted workflow visible to Status before a saga
// worker picks it up. The saga may already have created the run, in which case
// the stale save is expected. The deadline lets the sweeper settle a run whose
// first event was never handled.
func (s *Service) recordPending(ctx context.Context, r models.Run) {
	now := s.now()
	r.State = models.StatePending
	r.StartedAt = now
	r.UpdatedAt = now
	r.Deadline = now.Add(s.runTimeout)
	err := s.runs.Save(ctx, r, "")
	if err == nil || errors.Is(err, run.ErrStaleState) {
		return
	}
	s.logger.WarnContext(ctx, "failed to record pending run",
		"saga", r.Saga,
		"correlation_id", r.CorrelationID.String(),
		"error", err,
	)
}

// Status reports the run of a correlation id with its audit trail.
func (s *Service) Status(ctx context.Context, correlationID id.CorrelationID) (*RunStatus, error) {
	r, err := s.runs.Get(ctx, correlationID)
	if err != nil {
		return nil, translate(err, "registration not found")
	}
	status := &RunStatus{Run: *r, Trail: []audit.Event{}}
	if s.audit == nil {
		return status, nil
	}
	trail, err := s.audit.ListByCorrelation(ctx, correlationID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load audit trail",
			"correlation_id", correlationID.String(),
			"error", err,
		)
		return status, nil
	}
	status.Trail = trail
	return status, nil
}

// DeadLetters lists runs that ended in CompensationFailed, newest first.
func (s *Service) DeadLetters(ctx context.Context) ([]models.DeadLetter, error) {
	dls, err := s.runs.DeadLetters(ctx)
	if err != nil {
		return nil, translate(err, "failed to list dead letters")
	}
	if dls == nil {
		dls = []models.DeadLetter{}
	}
	return dls, nil
}

func (s *Service) check(req any) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid registration request")
	}
	fe := fieldErrs[0]
	return dErrors.New(dErrors.CodeValidation, fieldMessage(fe))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email address"
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	}
	return field + " is invalid"
}

func translate(err error, notFoundMsg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFoundMsg)
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "store error")
	}
}
