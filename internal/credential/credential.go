// Package credential owns login records: encrypted email, blind index, password
// hash, roles and the current refresh token hash.
package credential

import (
	"context"
	"time"

	id "accounts/pkg/domain"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Credential is soft deleted: DeletedAt non-nil hides it from every finder and
// frees its blind index for a new registration.
type Credential struct {
	ID               id.CredentialID
	EmailCiphertext  []byte
	EmailBlindIndex  string
	PasswordHash     string
	ExternalID       string
	Roles            []string
	RefreshTokenHash string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeletedAt        *time.Time
}

func (c Credential) IsDeleted() bool { return c.DeletedAt != nil }

// WithoutSecrets drops the password and refresh token hashes.
func (c Credential) WithoutSecrets() Credential {
	c.PasswordHash = ""
	c.RefreshTokenHash = ""
	c.Roles = append([]string(nil), c.Roles...)
	return c
}

func (c Credential) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

//go:generate mockgen -source=credential.go -destination=mocks/mocks.go -package=mocks Store

// Store persists credentials. Not found is sentinel.ErrNotFound; a live blind
// index or external id collision on Create is sentinel.ErrConflict.
type Store interface {
	Create(ctx context.Context, c Credential) error
	FindByID(ctx context.Context, credentialID id.CredentialID, includeSecret bool) (*Credential, error)
	FindByEmailBlindIndex(ctx context.Context, blindIndex string, includeSecret bool) (*Credential, error)
	FindByExternalID(ctx context.Context, externalID string) (*Credential, error)
	// DeleteIfExists soft deletes a live credential and clears its refresh token.
	// It reports whether a live record was found.
	DeleteIfExists(ctx context.Context, credentialID id.CredentialID, at time.Time) (bool, error)
	SetRefreshTokenHash(ctx context.Context, credentialID id.CredentialID, hash string, at time.Time) error
	ClearRefreshToken(ctx context.Context, credentialID id.CredentialID, at time.Time) error
}
