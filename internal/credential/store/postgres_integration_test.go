//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"accounts/internal/credential"
	"accounts/internal/credential/store"
	id "accounts/pkg/domain"
	"accounts/pkg/platform/sentinel"
	"accounts/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
	ctx      context.Context
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
	s.ctx = context.Background()
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(s.ctx, "credentials"))
}

func newCredential(blindIndex string) credential.Credential {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return credential.Credential{
		ID:              id.NewCredentialID(),
		EmailCiphertext: []byte("ciphertext"),
		EmailBlindIndex: blindIndex,
		PasswordHash:    "hash",
		Roles:           []string{credential.RoleUser, credential.RoleAdmin},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (s *PostgresStoreSuite) TestRoundTrip() {
	c := newCredential("bi-" + uuid.NewString())
	c.ExternalID = "ext-" + uuid.NewString()
	s.Require().NoError(s.store.Create(s.ctx, c))

	got, err := s.store.FindByEmailBlindIndex(s.ctx, c.EmailBlindIndex, true)
	s.Require().NoError(err)
	s.Equal(c.ID, got.ID)
	s.Equal(c.Roles, got.Roles)
	s.Equal("hash", got.PasswordHash)
	s.Equal(c.ExternalID, got.ExternalID)
	s.Nil(got.DeletedAt)

	byExt, err := s.store.FindByExternalID(s.ctx, c.ExternalID)
	s.Require().NoError(err)
	s.Empty(byExt.PasswordHash)
}

func (s *PostgresStoreSuite) TestSoftDeleteFreesEmail() {
	c := newCredential("bi-reuse")
	s.Require().NoError(s.store.Create(s.ctx, c))

	deleted, err := s.store.DeleteIfExists(s.ctx, c.ID, time.Now())
	s.Require().NoError(err)
	s.True(deleted)

	_, err = s.store.FindByID(s.ctx, c.ID, false)
	s.ErrorIs(err, sentinel.ErrNotFound)

	deleted, err = s.store.DeleteIfExists(s.ctx, c.ID, time.Now())
	s.Require().NoError(err)
	s.False(deleted)

	s.NoError(s.store.Create(s.ctx, newCredential("bi-reuse")))
}

func (s *PostgresStoreSuite) TestRefreshTokenLifecycle() {
	c := newCredential("bi-rt")
	s.Require().NoError(s.store.Create(s.ctx, c))

	s.Require().NoError(s.store.SetRefreshTokenHash(s.ctx, c.ID, "rt-hash", time.Now()))
	got, err := s.store.FindByID(s.ctx, c.ID, true)
	s.Require().NoError(err)
	s.Equal("rt-hash", got.RefreshTokenHash)

	s.Require().NoError(s.store.ClearRefreshToken(s.ctx, c.ID, time.Now()))
	got, err = s.store.FindByID(s.ctx, c.ID, true)
	s.Require().NoError(err)
	s.Empty(got.RefreshTokenHash)
}

// TestConcurrentUniqueEmailViolation verifies that concurrent creation attempts
// with the same blind index result in exactly one success.
func (s *PostgresStoreSuite) TestConcurrentUniqueEmailViolation() {
	blindIndex := "bi-race-" + uuid.NewString()
	const goroutines = 30

	var wg sync.WaitGroup
	var successCount, conflictCount atomic.Int32
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Create(s.ctx, newCredential(blindIndex))
			if err == nil {
				successCount.Add(1)
			} else if errors.Is(err, sentinel.ErrConflict) {
				conflictCount.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), successCount.Load())
	s.Equal(int32(goroutines-1), conflictCount.Load())
}
