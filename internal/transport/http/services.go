package httptransport

import (
	"context"

	authservice "accounts/internal/auth/service"
	"accounts/internal/profile"
	profileservice "accounts/internal/profile/service"
	"accounts/internal/registration"
	"accounts/internal/registration/models"
	id "accounts/pkg/domain"
)

//go:generate mockgen -source=services.go -destination=mocks/mocks.go -package=mocks RegistrationService,AuthService,ProfileService

// RegistrationService starts and reports the account workflows.
type RegistrationService interface {
	Register(ctx context.Context, req registration.RegistrationRequest) (*registration.Accepted, error)
	RegisterExternal(ctx context.Context, req registration.ExternalRegistrationRequest) (*registration.Accepted, error)
	DeleteAccount(ctx context.Context, credentialID id.CredentialID) (*registration.Accepted, error)
	Status(ctx context.Context, correlationID id.CorrelationID) (*registration.RunStatus, error)
	DeadLetters(ctx context.Context) ([]models.DeadLetter, error)
}

// AuthService issues and revokes tokens for existing credentials.
type AuthService interface {
	Login(ctx context.Context, email, password string) (*authservice.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*authservice.TokenPair, error)
	Logout(ctx context.Context, credentialID id.CredentialID) error
	Lookup(ctx context.Context, credentialID id.CredentialID) (*authservice.Account, error)
}

type ProfileService interface {
	FindAll(ctx context.Context) ([]profile.Profile, error)
	FindByRole(ctx context.Context, role string) ([]profile.Profile, error)
	FindByID(ctx context.Context, profileID id.ProfileID) (*profile.Profile, error)
	UpdateMine(ctx context.Context, patch profile.Patch) (*profile.Profile, error)
	CompletenessOfMine(ctx context.Context) (*profileservice.Completeness, error)
}
