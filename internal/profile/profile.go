// Package profile owns the personal details attached to a credential.
package profile

import (
	"context"
	"time"

	id "accounts/pkg/domain"
)

const MaxAge = 150

type Profile struct {
	ID           id.ProfileID    `json:"id"`
	CredentialID id.CredentialID `json:"credential_id"`
	Name         string          `json:"name"`
	Lastname     string          `json:"lastname"`
	Age          int             `json:"age"`
	Role         string          `json:"role"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MissingFields lists the fields a complete profile still needs.
func (p Profile) MissingFields() []string {
	var missing []string
	if p.Name == "" {
		missing = append(missing, "name")
	}
	if p.Lastname == "" {
		missing = append(missing, "lastname")
	}
	if p.Age <= 0 {
		missing = append(missing, "age")
	}
	return missing
}

// Patch carries the owner-editable fields. Nil fields are left unchanged.
type Patch struct {
	Name     *string
	Lastname *string
	Age      *int
}

func (p Patch) IsEmpty() bool {
	return p.Name == nil && p.Lastname == nil && p.Age == nil
}

// ApplyTo returns prof with the patch applied.
func (p Patch) ApplyTo(prof Profile) Profile {
	if p.Name != nil {
		prof.Name = *p.Name
	}
	if p.Lastname != nil {
		prof.Lastname = *p.Lastname
	}
	if p.Age != nil {
		prof.Age = *p.Age
	}
	return prof
}

//go:generate mockgen -source=profile.go -destination=mocks/mocks.go -package=mocks Store

// Store persists profiles. At most one profile exists per credential; a second
// Create for the same credential or id is sentinel.ErrConflict.
type Store interface {
	Create(ctx context.Context, p Profile) error
	FindByID(ctx context.Context, profileID id.ProfileID) (*Profile, error)
	FindByCredentialID(ctx context.Context, credentialID id.CredentialID) (*Profile, error)
	FindAll(ctx context.Context) ([]Profile, error)
	FindByRole(ctx context.Context, role string) ([]Profile, error)
	Update(ctx context.Context, profileID id.ProfileID, patch Patch, at time.Time) (*Profile, error)
	DeleteIfExists(ctx context.Context, profileID id.ProfileID) (bool, error)
}
