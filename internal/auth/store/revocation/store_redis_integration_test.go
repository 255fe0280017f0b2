//go:build integration

package revocation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"accounts/pkg/testutil/containers"
)

type RedisSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	trl   *Redis
	ctx   context.Context
}

func TestRedisSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisSuite))
}

func (s *RedisSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisSuite) SetupTest() {
	s.ctx = context.Background()
	s.Require().NoError(s.redis.FlushDB(s.ctx))
	s.trl = NewRedis(s.redis.Client, "test:")
}

func (s *RedisSuite) TestRevokedUntilExpiry() {
	s.Require().NoError(s.trl.RevokeToken(s.ctx, "jti-1", time.Second))

	revoked, err := s.trl.IsRevoked(s.ctx, "jti-1")
	s.Require().NoError(err)
	s.True(revoked)

	s.Eventually(func() bool {
		revoked, err := s.trl.IsRevoked(s.ctx, "jti-1")
		return err == nil && !revoked
	}, 5*time.Second, 100*time.Millisecond)
}

func (s *RedisSuite) TestUnknownTokenIsNotRevoked() {
	revoked, err := s.trl.IsRevoked(s.ctx, "never-seen")
	s.Require().NoError(err)
	s.False(revoked)
}
