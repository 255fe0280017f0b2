package store

import (
	"context"
	"sync"
	"time"

	"accounts/internal/credential"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/sentinel"
)

// InMemory keeps credentials in a map. Uniqueness checks and inserts happen
// under one lock, so concurrent creates for the same email cannot both win.
type InMemory struct {
	mu          sync.RWMutex
	credentials map[id.CredentialID]credential.Credential
}

func NewInMemory() *InMemory {
	return &InMemory{credentials: make(map[id.CredentialID]credential.Credential)}
}

func (s *InMemory) Create(_ context.Context, c credential.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.credentials[c.ID]; exists {
		return sentinel.ErrConflict
	}
	for _, existing := range s.credentials {
		if existing.IsDeleted() {
			continue
		}
		if existing.EmailBlindIndex == c.EmailBlindIndex {
			return sentinel.ErrConflict
		}
		if c.ExternalID != "" && existing.ExternalID == c.ExternalID {
			return sentinel.ErrConflict
		}
	}
	c.Roles = append([]string(nil), c.Roles...)
	s.credentials[c.ID] = c
	return nil
}

func (s *InMemory) FindByID(_ context.Context, credentialID id.CredentialID, includeSecret bool) (*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credentials[credentialID]
	if !ok || c.IsDeleted() {
		return nil, sentinel.ErrNotFound
	}
	return view(c, includeSecret), nil
}

func (s *InMemory) FindByEmailBlindIndex(_ context.Context, blindIndex string, includeSecret bool) (*credential.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.credentials {
		if !c.IsDeleted() && c.EmailBlindIndex == blindIndex {
			return view(c, includeSecret), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) FindByExternalID(_ context.Context, externalID string) (*credential.Credential, error) {
	if externalID == "" {
		return nil, sentinel.ErrNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.credentials {
		if !c.IsDeleted() && c.ExternalID == externalID {
			return view(c, false), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) DeleteIfExists(_ context.Context, credentialID id.CredentialID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok || c.IsDeleted() {
		return false, nil
	}
	c.DeletedAt = &at
	c.RefreshTokenHash = ""
	c.UpdatedAt = at
	s.credentials[credentialID] = c
	return true, nil
}

func (s *InMemory) SetRefreshTokenHash(_ context.Context, credentialID id.CredentialID, hash string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[credentialID]
	if !ok || c.IsDeleted() {
		return sentinel.ErrNotFound
	}
	c.RefreshTokenHash = hash
	c.UpdatedAt = at
	s.credentials[credentialID] = c
	return nil
}

func (s *InMemory) ClearRefreshToken(ctx context.Context, credentialID id.CredentialID, at time.Time) error {
	return s.SetRefreshTokenHash(ctx, credentialID, "", at)
}

func view(c credential.Credential, includeSecret bool) *credential.Credential {
	if !includeSecret {
		c = c.WithoutSecrets()
	} else {
		c.Roles = append([]string(nil), c.Roles...)
	}
	return &c
}
