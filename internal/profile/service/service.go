package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"accounts/internal/profile"
	id "accounts/pkg/domain"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/sentinel"
	"accounts/pkg/requestcontext"
)

// Service serves profile queries and owner updates. Profiles are created and
// deleted only by the registration workflows.
type Service struct {
	profiles profile.Store
	logger   *slog.Logger
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(profiles profile.Store, opts ...Option) *Service {
	s := &Service{profiles: profiles, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Completeness reports whether the caller's profile has every required field.
type Completeness struct {
	ProfileID id.ProfileID `json:"profile_id"`
	Complete  bool         `json:"complete"`
	Missing   []string     `json:"missing,omitempty"`
}

func (s *Service) FindAll(ctx context.Context) ([]profile.Profile, error) {
	profiles, err := s.profiles.FindAll(ctx)
	if err != nil {
		return nil, translate(err, "failed to list profiles")
	}
	return profiles, nil
}

func (s *Service) FindByRole(ctx context.Context, role string) ([]profile.Profile, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "role is required")
	}
	profiles, err := s.profiles.FindByRole(ctx, role)
	if err != nil {
		return nil, translate(err, "failed to list profiles by role")
	}
	return profiles, nil
}

func (s *Service) FindByID(ctx context.Context, profileID id.ProfileID) (*profile.Profile, error) {
	p, err := s.profiles.FindByID(ctx, profileID)
	if err != nil {
		return nil, translate(err, "failed to load profile")
	}
	return p, nil
}

// UpdateMine applies patch to the profile owned by the authenticated credential.
func (s *Service) UpdateMine(ctx context.Context, patch profile.Patch) (*profile.Profile, error) {
	if err := ValidatePatch(patch); err != nil {
		return nil, err
	}
	owner := requestcontext.CredentialID(ctx)
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	current, err := s.profiles.FindByCredentialID(ctx, owner)
	if err != nil {
		return nil, translate(err, "failed to load profile")
	}
	updated, err := s.profiles.Update(ctx, current.ID, patch, requestcontext.Now(ctx))
	if err != nil {
		return nil, translate(err, "failed to update profile")
	}
	s.logger.InfoContext(ctx, "profile updated",
		"profile_id", updated.ID.String(),
		"credential_id", owner.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return updated, nil
}

// CompletenessOfMine checks the authenticated caller's profile.
func (s *Service) CompletenessOfMine(ctx context.Context) (*Completeness, error) {
	owner := requestcontext.CredentialID(ctx)
	if owner.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	p, err := s.profiles.FindByCredentialID(ctx, owner)
	if err != nil {
		return nil, translate(err, "failed to load profile")
	}
	missing := p.MissingFields()
	return &Completeness{ProfileID: p.ID, Complete: len(missing) == 0, Missing: missing}, nil
}

// ValidatePatch rejects empty patches, blank names and ages outside 0..MaxAge.
func ValidatePatch(patch profile.Patch) error {
	if patch.IsEmpty() {
		return dErrors.New(dErrors.CodeValidation, "at least one field must be provided")
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return dErrors.New(dErrors.CodeValidation, "name cannot be empty")
	}
	if patch.Lastname != nil && strings.TrimSpace(*patch.Lastname) == "" {
		return dErrors.New(dErrors.CodeValidation, "lastname cannot be empty")
	}
	if patch.Age != nil && (*patch.Age < 0 || *patch.Age > profile.MaxAge) {
		return dErrors.New(dErrors.CodeValidation, "age must be between 0 and 150")
	}
	return nil
}

func translate(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, "profile not found")
	case errors.Is(err, sentinel.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "profile store unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}
