package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ktra-go/registry/internal/adapters/store/boltstore"
)

func TestOIDCAuthorizedNoRestrictions(t *testing.T) {
	svc := &OIDCService{cfg: OIDCConfig{}}
	require.True(t, svc.authorized(claims{Nickname: "alice"}))
}

func TestOIDCAuthorizedByGroup(t *testing.T) {
	svc := &OIDCService{cfg: OIDCConfig{AuthorizedGroups: []string{"maintainers"}}}

	require.True(t, svc.authorized(claims{Nickname: "alice", Groups: []string{"other", "maintainers"}}))
	require.False(t, svc.authorized(claims{Nickname: "bob", Groups: []string{"other"}}))
}

func TestOIDCAuthorizedByUser(t *testing.T) {
	svc := &OIDCService{cfg: OIDCConfig{AuthorizedUsers: []string{"alice"}}}

	require.True(t, svc.authorized(claims{Nickname: "alice"}))
	require.False(t, svc.authorized(claims{Nickname: "bob"}))
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	ctx := context.Background()

	st, err := boltstore.Open(filepath.Join(t.TempDir(), "registry.db"), "github:")
	require.NoError(t, err)

	svc := &OIDCService{Store: st}

	first, err := svc.getOrCreateUser(ctx, "github.com", "alice")
	require.NoError(t, err)
	require.Equal(t, "github.com:alice", first.Login)

	second, err := svc.getOrCreateUser(ctx, "github.com", "alice")
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}
