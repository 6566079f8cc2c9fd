package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ktra-go/registry/internal/adapters/store/boltstore"
	"github.com/ktra-go/registry/internal/domain/regerr"
)

func newTestService(t *testing.T) *Service {
	t.Helper()

	st, err := boltstore.Open(filepath.Join(t.TempDir(), "registry.db"), "github:")
	require.NoError(t, err)

	t.Cleanup(func() { _ = st.Close() })

	return New(st)
}

func TestRegisterThenLogin(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	tok, err := s.Register(ctx, "alice", "correct-password")
	require.NoError(t, err)
	require.Len(t, tok, tokenLength)

	_, err = s.Login(ctx, "alice", "wrong-password")
	require.Error(t, err)

	re, ok := regerr.As(err)
	require.True(t, ok)
	require.Equal(t, regerr.KindInvalidPassword, re.Kind)

	loginTok, err := s.Login(ctx, "alice", "correct-password")
	require.NoError(t, err)
	require.Len(t, loginTok, tokenLength)
	require.NotEqual(t, tok, loginTok)
}

func TestRegisterTwiceFails(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.Register(ctx, "bob", "hunter2")
	require.NoError(t, err)

	_, err = s.Register(ctx, "bob", "hunter2")
	require.Error(t, err)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t)

	_, err := s.Register(ctx, "carol", "old-password")
	require.NoError(t, err)

	_, err = s.ChangePassword(ctx, "carol", "old-password", "old-password")
	require.Error(t, err)

	re, ok := regerr.As(err)
	require.True(t, ok)
	require.Equal(t, regerr.KindSamePasswords, re.Kind)

	tok, err := s.ChangePassword(ctx, "carol", "old-password", "new-password")
	require.NoError(t, err)
	require.Len(t, tok, tokenLength)

	_, err = s.Login(ctx, "carol", "old-password")
	require.Error(t, err)

	_, err = s.Login(ctx, "carol", "new-password")
	require.NoError(t, err)
}
