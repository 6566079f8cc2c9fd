//go:build integration

package rediskv

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ktra-go/registry/common/mzap"
	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
)

func startRedisContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start Redis container")

	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
	})

	host, err := ctr.Host(ctx)
	require.NoError(t, err)

	port, err := ctr.MappedPort(ctx, "6379")
	require.NoError(t, err)

	return fmt.Sprintf("redis://%s:%s", host, port.Port())
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	connStr := startRedisContainer(t)
	logger := mzap.InitializeLogger()

	s, err := Open(context.Background(), connStr, "github:", logger)
	require.NoError(t, err)

	return s
}

func TestIntegration_RedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)

	owner := entity.NewUser(1, "github:alice", nil)
	require.NoError(t, s.AddNewUser(ctx, owner, "correct-password"))

	ok, err := s.VerifyPassword(ctx, owner.ID, "correct-password")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.VerifyPassword(ctx, owner.ID, "wrong-password")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.AddNewMetadata(ctx, owner.ID, entity.Metadata{Name: "widget", Vers: "1.0.0"}))

	v := semver.MustParse("1.0.0")
	require.NoError(t, s.Yank(ctx, "widget", v))

	err = s.Yank(ctx, "widget", v)
	re, ok := regerr.As(err)
	require.True(t, ok)
	require.Equal(t, regerr.KindAlreadyYanked, re.Kind)

	result, err := s.Search(ctx, entity.Query{String: "widget", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, result.Meta.Total)
}

func TestIntegration_RedisMigrateLegacyTokensIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)

	require.NoError(t, s.MigrateLegacyTokens(ctx))
	require.NoError(t, s.MigrateLegacyTokens(ctx))
}
