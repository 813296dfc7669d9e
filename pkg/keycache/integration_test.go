//go:build integration

package keycache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/StricklySoft/bearer-relay/internal/testutil/containers"
	"github.com/StricklySoft/bearer-relay/pkg/clients/minio"
	"github.com/StricklySoft/bearer-relay/pkg/clients/redis"
	sserr "github.com/StricklySoft/bearer-relay/pkg/errors"
	"github.com/StricklySoft/bearer-relay/pkg/jwks"
	"github.com/StricklySoft/bearer-relay/pkg/keycache"
)

// KeyCacheIntegrationSuite runs both backends against real servers.
type KeyCacheIntegrationSuite struct {
	suite.Suite

	ctx         context.Context
	redisResult *containers.RedisResult
	minioResult *containers.MinIOResult
	redis       *redis.Client
	minio       *minio.Client
}

func (s *KeyCacheIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	rr, err := containers.StartRedis(s.ctx)
	require.NoError(s.T(), err)
	s.redisResult = rr
	s.redis, err = redis.NewClient(s.ctx, redis.Config{URI: rr.ConnString})
	require.NoError(s.T(), err)

	mr, err := containers.StartMinIO(s.ctx)
	require.NoError(s.T(), err)
	s.minioResult = mr
	s.minio, err = minio.NewClient(s.ctx, minio.Config{
		Endpoint:  mr.Endpoint,
		AccessKey: mr.AccessKey,
		SecretKey: minio.Secret(mr.SecretKey),
	})
	require.NoError(s.T(), err)
	require.NoError(s.T(), s.minio.EnsureBucket(s.ctx, "jwks"))
}

func (s *KeyCacheIntegrationSuite) TearDownSuite() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
	if s.redisResult != nil {
		_ = s.redisResult.Container.Terminate(s.ctx)
	}
	if s.minioResult != nil {
		_ = s.minioResult.Container.Terminate(s.ctx)
	}
}

func TestKeyCacheIntegration(t *testing.T) {
	suite.Run(t, new(KeyCacheIntegrationSuite))
}

func (s *KeyCacheIntegrationSuite) roundTrip(cache jwks.SnapshotCache) {
	_, err := cache.Load(s.ctx)
	s.Require().Error(err)
	s.True(sserr.IsNotFound(err))

	set := fetchedSet(s.T())
	s.Require().NoError(cache.Save(s.ctx, set))

	got, err := cache.Load(s.ctx)
	s.Require().NoError(err)
	assertSameSet(s.T(), set, got)
}

func (s *KeyCacheIntegrationSuite) TestRedis() {
	s.roundTrip(keycache.NewRedis(s.redis, "it:"+uuid.NewString(), time.Minute))
}

func (s *KeyCacheIntegrationSuite) TestObject() {
	s.roundTrip(keycache.NewObject(s.minio, "jwks", "it/"+uuid.NewString()+".json"))
}
