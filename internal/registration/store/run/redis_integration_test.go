//go:build integration

package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"accounts/internal/registration/models"
	"accounts/pkg/platform/sentinel"
	"accounts/pkg/testutil/containers"
)

type RedisSuite struct {
	contractSuite
	redis *containers.RedisContainer
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
	s.now = time.Now().UTC().Truncate(time.Millisecond)
	s.Require().NoError(s.redis.FlushDB(s.ctx))
	s.store = NewRedis(s.redis.Client, "test:", 2*time.Second)
}

func (s *RedisSuite) TestTerminalRunsExpireAfterRetention() {
	r := s.newRun(s.now.Add(time.Minute))
	s.Require().NoError(s.store.Save(s.ctx, r, ""))
	r.State = models.StateCompleted
	s.Require().NoError(s.store.Save(s.ctx, r, models.StateAwaitingProfile))

	s.Eventually(func() bool {
		_, err := s.store.Get(s.ctx, r.CorrelationID)
		return err == sentinel.ErrNotFound
	}, 5*time.Second, 100*time.Millisecond)
}
