// Package revocation tracks access tokens revoked before they expire. Entries
// are keyed by the token's jti and live only until the token would have
// expired anyway.
package revocation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"accounts/pkg/platform/sentinel"
)

func validateTTL(ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive: %w", sentinel.ErrInvalidState)
	}
	return nil
}

// InMemory is the single-process revocation list.
type InMemory struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

type InMemoryOption func(*InMemory)

// WithClock sets the clock used to expire entries.
func WithClock(now func() time.Time) InMemoryOption {
	return func(m *InMemory) {
		if now != nil {
			m.now = now
		}
	}
}

func NewInMemory(opts ...InMemoryOption) *InMemory {
	m := &InMemory{revoked: make(map[string]time.Time), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *InMemory) RevokeToken(_ context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	for k, exp := range m.revoked {
		if !now.Before(exp) {
			delete(m.revoked, k)
		}
	}
	m.revoked[jti] = now.Add(ttl)
	return nil
}

func (m *InMemory) IsRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.revoked[jti]
	return ok && m.now().Before(exp), nil
}
