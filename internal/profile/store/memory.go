package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"accounts/internal/profile"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/sentinel"
)

type InMemory struct {
	mu           sync.RWMutex
	profiles     map[id.ProfileID]profile.Profile
	byCredential map[id.CredentialID]id.ProfileID
}

func NewInMemory() *InMemory {
	return &InMemory{
		profiles:     make(map[id.ProfileID]profile.Profile),
		byCredential: make(map[id.CredentialID]id.ProfileID),
	}
}

func (s *InMemory) Create(_ context.Context, p profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.profiles[p.ID]; exists {
		return sentinel.ErrConflict
	}
	if _, exists := s.byCredential[p.CredentialID]; exists {
		return sentinel.ErrConflict
	}
	s.profiles[p.ID] = p
	s.byCredential[p.CredentialID] = p.ID
	return nil
}

func (s *InMemory) FindByID(_ context.Context, profileID id.ProfileID) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (s *InMemory) FindByCredentialID(_ context.Context, credentialID id.CredentialID) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profileID, ok := s.byCredential[credentialID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	p := s.profiles[profileID]
	return &p, nil
}

func (s *InMemory) FindAll(_ context.Context) ([]profile.Profile, error) {
	return s.filter(func(profile.Profile) bool { return true }), nil
}

func (s *InMemory) FindByRole(_ context.Context, role string) ([]profile.Profile, error) {
	return s.filter(func(p profile.Profile) bool { return p.Role == role }), nil
}

func (s *InMemory) filter(keep func(profile.Profile) bool) []profile.Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]profile.Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		if keep(p) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (s *InMemory) Update(_ context.Context, profileID id.ProfileID, patch profile.Patch, at time.Time) (*profile.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	p = patch.ApplyTo(p)
	p.UpdatedAt = at
	s.profiles[profileID] = p
	return &p, nil
}

func (s *InMemory) DeleteIfExists(_ context.Context, profileID id.ProfileID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[profileID]
	if !ok {
		return false, nil
	}
	delete(s.profiles, profileID)
	delete(s.byCredential, p.CredentialID)
	return true, nil
}
