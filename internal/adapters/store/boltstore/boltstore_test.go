package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dir := t.TempDir()

	s, err := Open(filepath.Join(dir, "registry.db"), "github:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestAddNewUserAndToken(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	user := entity.NewUser(1, "github:alice", nil)
	require.NoError(t, s.AddNewUser(ctx, user, "encoded-hash"))

	err := s.AddNewUser(ctx, user, "encoded-hash")
	require.Error(t, err)

	re, ok := regerr.As(err)
	require.True(t, ok)
	require.Equal(t, regerr.KindUserExists, re.Kind)

	require.NoError(t, s.SetToken(ctx, user.ID, "tok-123"))

	id, err := s.UserIDForToken(ctx, "tok-123")
	require.NoError(t, err)
	require.Equal(t, user.ID, id)

	_, err = s.UserIDForToken(ctx, "nope")
	require.Error(t, err)
}

func TestAddNewMetadataAndOwners(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner := entity.NewUser(7, "github:bob", nil)
	require.NoError(t, s.AddNewUser(ctx, owner, "hash"))

	meta := entity.Metadata{Name: "widget", Vers: "1.0.0"}
	require.NoError(t, s.AddNewMetadata(ctx, owner.ID, meta))

	v := semver.MustParse("1.0.0")
	canAdd, err := s.CanAddMetadata(ctx, owner.ID, "widget", v)
	require.NoError(t, err)
	require.False(t, canAdd)

	ok, err := s.CanEditPackage(ctx, owner.ID, "widget", v)
	require.NoError(t, err)
	require.True(t, ok)

	owners, err := s.Owners(ctx, "widget")
	require.NoError(t, err)
	require.Len(t, owners, 1)
	require.Equal(t, owner.Login, owners[0].Login)
}

func TestYankUnyank(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner := entity.NewUser(1, "github:carol", nil)
	require.NoError(t, s.AddNewUser(ctx, owner, "hash"))
	require.NoError(t, s.AddNewMetadata(ctx, owner.ID, entity.Metadata{Name: "widget", Vers: "1.0.0"}))

	v := semver.MustParse("1.0.0")

	require.NoError(t, s.Yank(ctx, "widget", v))

	err := s.Yank(ctx, "widget", v)
	re, ok := regerr.As(err)
	require.True(t, ok)
	require.Equal(t, regerr.KindAlreadyYanked, re.Kind)

	require.NoError(t, s.Unyank(ctx, "widget", v))

	err = s.Unyank(ctx, "widget", v)
	re, ok = regerr.As(err)
	require.True(t, ok)
	require.Equal(t, regerr.KindNotYetYanked, re.Kind)
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	owner := entity.NewUser(1, "github:dan", nil)
	require.NoError(t, s.AddNewUser(ctx, owner, "hash"))
	require.NoError(t, s.AddNewMetadata(ctx, owner.ID, entity.Metadata{Name: "http-client", Vers: "1.0.0"}))
	require.NoError(t, s.AddNewMetadata(ctx, owner.ID, entity.Metadata{Name: "json-parser", Vers: "1.0.0"}))

	result, err := s.Search(ctx, entity.Query{String: "http", Limit: 10})
	require.NoError(t, err)
	require.Equal(t, 1, result.Meta.Total)
	require.Equal(t, "http-client", result.Crates[0].Name)
}

func TestMigrateLegacyTokensIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.MigrateLegacyTokens(ctx))
	require.NoError(t, s.MigrateLegacyTokens(ctx))
}
