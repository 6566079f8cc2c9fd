//go:build integration

package mongostore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
)

func startMongoContainer(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp").WithStartupTimeout(60 * time.Second),
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start MongoDB container")

	t.Cleanup(func() {
		if err := ctr.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate MongoDB container: %v", err)
		}
	})

	host, err := ctr.Host(ctx)
	require.NoError(t, err)

	port, err := ctr.MappedPort(ctx, "27017")
	require.NoError(t, err)

	return fmt.Sprintf("mongodb://%s:%s", host, port.Port())
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	uri := startMongoContainer(t)

	s, err := Open(context.Background(), uri, "registry_test", "github:")
	require.NoError(t, err)

	return s
}

func TestIntegration_MongoRoundTrip(t *testing.T) {
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

func TestIntegration_MongoMigrateLegacyTokensIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newIntegrationStore(t)

	require.NoError(t, s.MigrateLegacyTokens(ctx))
	require.NoError(t, s.MigrateLegacyTokens(ctx))
}
