package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accounts/internal/cqrs"
	"accounts/internal/credential"
	"accounts/internal/profile"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/sentinel"
	"accounts/pkg/requestcontext"
)

// EmailProtector encrypts emails at rest and derives their lookup index.
type EmailProtector interface {
	Encrypt(email string) ([]byte, error)
	Decrypt(ciphertext []byte) (string, error)
	BlindIndex(email string) string
}

func unexpectedCommand(want string, got cqrs.Command) error {
	return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("handler for %s received %s", want, got.CommandType()))
}

// commit publishes the aggregate's events. Delivery failures are secondary: the
// mutation already happened, so they are logged and the result still returned.
func commit(ctx context.Context, logger *slog.Logger, agg *cqrs.Aggregate) cqrs.Result {
	events := agg.Uncommitted()
	if err := agg.Commit(ctx); err != nil {
		logger.WarnContext(ctx, "event delivery reported failures", "error", err)
	}
	res := cqrs.Result{Events: events}
	if len(events) > 0 {
		res.AggregateID = events[0].AggregateID
	}
	return res
}

// CreateCredentialHandler inserts the credential for a new registration.
type CreateCredentialHandler struct {
	credentials credential.Store
	emails      EmailProtector
	bus         cqrs.Publisher
	logger      *slog.Logger
}

func NewCreateCredentialHandler(credentials credential.Store, emails EmailProtector, bus cqrs.Publisher, logger *slog.Logger) *CreateCredentialHandler {
	return &CreateCredentialHandler{credentials: credentials, emails: emails, bus: bus, logger: logger}
}

func (h *CreateCredentialHandler) Handle(ctx context.Context, cmd cqrs.Command) (cqrs.Result, error) {
	c, ok := cmd.(CreateCredential)
	if !ok {
		return cqrs.Result{}, unexpectedCommand(CmdCreateCredential, cmd)
	}

	blindIndex := h.emails.BlindIndex(c.Email)
	if err := h.ensureAbsent(h.credentials.FindByEmailBlindIndex(ctx, blindIndex, false)); err != nil {
		return cqrs.Result{}, err
	}
	if c.ExternalID != "" {
		if err := h.ensureAbsent(h.credentials.FindByExternalID(ctx, c.ExternalID)); err != nil {
			return cqrs.Result{}, err
		}
	}

	ciphertext, err := h.emails.Encrypt(c.Email)
	if err != nil {
		return cqrs.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to protect email")
	}
	now := requestcontext.Now(ctx)
	record := credential.Credential{
		ID:              c.CredentialID,
		EmailCiphertext: ciphertext,
		EmailBlindIndex: blindIndex,
		PasswordHash:    c.PasswordHash,
		ExternalID:      c.ExternalID,
		Roles:           c.Roles,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := h.credentials.Create(ctx, record); err != nil {
		return cqrs.Result{}, translateCredentialWrite(err)
	}

	agg := cqrs.NewAggregate(h.bus, c.CredentialID.String(), c.CorrelationID)
	agg.Apply(ctx, EvtCredentialCreated, CredentialCreated{
		CorrelationID: c.CorrelationID,
		CredentialID:  c.CredentialID,
		ProfileID:     c.ProfileID,
		Profile:       c.Profile,
	})
	return commit(ctx, h.logger, agg), nil
}

func (h *CreateCredentialHandler) ensureAbsent(_ *credential.Credential, err error) error {
	switch {
	case err == nil:
		return dErrors.New(dErrors.CodeConflict, "an account with this email already exists")
	case errors.Is(err, sentinel.ErrNotFound):
		return nil
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing credential")
	}
}

func translateCredentialWrite(err error) error {
	switch {
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, "an account with this email already exists")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create credential")
	}
}

// CreateProfileHandler never returns a store failure: any failure, including a
// panic in the store adapter, becomes a ProfileCreationFailed event.
type CreateProfileHandler struct {
	profiles    profile.Store
	credentials credential.Store
	faults      FaultHook
	bus         cqrs.Publisher
	logger      *slog.Logger
}

func NewCreateProfileHandler(profiles profile.Store, credentials credential.Store, faults FaultHook, bus cqrs.Publisher, logger *slog.Logger) *CreateProfileHandler {
	if faults == nil {
		faults = NoFaults{}
	}
	return &CreateProfileHandler{profiles: profiles, credentials: credentials, faults: faults, bus: bus, logger: logger}
}

func (h *CreateProfileHandler) Handle(ctx context.Context, cmd cqrs.Command) (cqrs.Result, error) {
	c, ok := cmd.(CreateProfile)
	if !ok {
		return cqrs.Result{}, unexpectedCommand(CmdCreateProfile, cmd)
	}

	agg := cqrs.NewAggregate(h.bus, c.ProfileID.String(), c.CorrelationID)
	if err := h.create(ctx, c); err != nil {
		h.logger.ErrorContext(ctx, "profile creation failed",
			"correlation_id", c.CorrelationID.String(),
			"profile_id", c.ProfileID.String(),
			"credential_id", c.CredentialID.String(),
			"error", err,
		)
		agg.Apply(ctx, EvtProfileCreationFailed, ProfileCreationFailed{
			CorrelationID: c.CorrelationID,
			CredentialID:  c.CredentialID,
			ProfileID:     c.ProfileID,
			Cause:         err.Error(),
		})
	} else {
		agg.Apply(ctx, EvtProfileCreated, ProfileCreated{
			CorrelationID: c.CorrelationID,
			ProfileID:     c.ProfileID,
			CredentialID:  c.CredentialID,
		})
	}
	return commit(ctx, h.logger, agg), nil
}

func (h *CreateProfileHandler) create(ctx context.Context, c CreateProfile) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("profile store panic: %v", r)
		}
	}()

	if _, err := h.credentials.FindByID(ctx, c.CredentialID, false); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return fmt.Errorf("credential %s not found", c.CredentialID)
		}
		return fmt.Errorf("load credential: %w", err)
	}
	if err := h.faults.BeforeCreateProfile(ctx, c.Profile); err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	return h.profiles.Create(ctx, profile.Profile{
		ID:           c.ProfileID,
		CredentialID: c.CredentialID,
		Name:         c.Profile.Name,
		Lastname:     c.Profile.Lastname,
		Age:          c.Profile.Age,
		Role:         c.Profile.Role,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// DeleteCredentialHandler is idempotent: a missing or already deleted
// credential still raises CredentialDeleted.
type DeleteCredentialHandler struct {
	credentials credential.Store
	bus         cqrs.Publisher
	logger      *slog.Logger
}

func NewDeleteCredentialHandler(credentials credential.Store, bus cqrs.Publisher, logger *slog.Logger) *DeleteCredentialHandler {
	return &DeleteCredentialHandler{credentials: credentials, bus: bus, logger: logger}
}

func (h *DeleteCredentialHandler) Handle(ctx context.Context, cmd cqrs.Command) (cqrs.Result, error) {
	c, ok := cmd.(DeleteCredential)
	if !ok {
		return cqrs.Result{}, unexpectedCommand(CmdDeleteCredential, cmd)
	}

	existed, err := h.credentials.DeleteIfExists(ctx, c.CredentialID, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return cqrs.Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "credential store unavailable")
		}
		return cqrs.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete credential")
	}
	h.logger.WarnContext(ctx, "credential deleted",
		"correlation_id", c.CorrelationID.String(),
		"credential_id", c.CredentialID.String(),
		"reason", c.Reason,
		"existed", existed,
	)

	agg := cqrs.NewAggregate(h.bus, c.CredentialID.String(), c.CorrelationID)
	agg.Apply(ctx, EvtCredentialDeleted, CredentialDeleted{
		CorrelationID: c.CorrelationID,
		CredentialID:  c.CredentialID,
		ProfileID:     c.ProfileID,
		Reason:        c.Reason,
		Existed:       existed,
	})
	return commit(ctx, h.logger, agg), nil
}

type DeleteProfileHandler struct {
	profiles profile.Store
	bus      cqrs.Publisher
	logger   *slog.Logger
}

func NewDeleteProfileHandler(profiles profile.Store, bus cqrs.Publisher, logger *slog.Logger) *DeleteProfileHandler {
	return &DeleteProfileHandler{profiles: profiles, bus: bus, logger: logger}
}

func (h *DeleteProfileHandler) Handle(ctx context.Context, cmd cqrs.Command) (cqrs.Result, error) {
	c, ok := cmd.(DeleteProfile)
	if !ok {
		return cqrs.Result{}, unexpectedCommand(CmdDeleteProfile, cmd)
	}

	existed, err := h.profiles.DeleteIfExists(ctx, c.ProfileID)
	if err != nil {
		if errors.Is(err, sentinel.ErrUnavailable) {
			return cqrs.Result{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "profile store unavailable")
		}
		return cqrs.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete profile")
	}

	agg := cqrs.NewAggregate(h.bus, c.ProfileID.String(), c.CorrelationID)
	agg.Apply(ctx, EvtProfileDeleted, ProfileDeleted{
		CorrelationID: c.CorrelationID,
		ProfileID:     c.ProfileID,
		CredentialID:  c.CredentialID,
		Existed:       existed,
	})
	return commit(ctx, h.logger, agg), nil
}
