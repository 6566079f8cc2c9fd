package registry

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ktra-go/registry/internal/adapters/store/boltstore"
	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/indexmgr"
)

func newTestService(t *testing.T, branch, remote string) *Service {
	t.Helper()

	st, err := boltstore.Open(filepath.Join(t.TempDir(), "registry.db"), "github:")
	require.NoError(t, err)

	idx, err := indexmgr.New(indexmgr.Config{
		RemoteURL: remote,
		LocalPath: filepath.Join(t.TempDir(), "index"),
		Branch:    branch,
		Name:      "tester",
		Email:     "tester@example.com",
	})
	require.NoError(t, err)

	return New(st, idx, filepath.Join(t.TempDir(), "crates"))
}

func lengthPrefixed(data []byte) []byte {
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)

	return buf
}

func buildPublishBody(metadataJSON, crateData []byte) []byte {
	body := append([]byte{}, lengthPrefixed(metadataJSON)...)
	body = append(body, lengthPrefixed(crateData)...)

	return body
}

func TestReadLengthAndExactly(t *testing.T) {
	n, rest, err := readLength(lengthPrefixed([]byte("hello")))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	data, rest, err := readExactly(rest, n)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.Empty(t, rest)
}

func TestReadLengthInsufficientBytes(t *testing.T) {
	_, _, err := readLength([]byte{1, 2})
	require.Error(t, err)
}

func TestChecksum(t *testing.T) {
	sum := checksum([]byte("abc"))
	require.Len(t, sum, 64)
	require.Equal(t, sum, checksum([]byte("abc")))
	require.NotEqual(t, sum, checksum([]byte("abd")))
}

func TestSaveAndDownloadPath(t *testing.T) {
	svc := &Service{CrateDir: t.TempDir()}

	require.NoError(t, svc.saveCrateFile("widget", "1.0.0", []byte("tarball")))

	path := svc.DownloadPath("widget", "1.0.0")
	require.FileExists(t, path)
}

func TestOwnersRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, err := boltstore.Open(filepath.Join(t.TempDir(), "registry.db"), "github:")
	require.NoError(t, err)

	owner := entity.NewUser(1, "github:alice", nil)
	require.NoError(t, st.AddNewUser(ctx, owner, "hash"))
	require.NoError(t, st.SetToken(ctx, owner.ID, "tok"))
	require.NoError(t, st.AddNewMetadata(ctx, owner.ID, entity.Metadata{Name: "widget", Vers: "1.0.0"}))

	svc := &Service{Store: st}

	msg, err := svc.AddOwners(ctx, "tok", "widget", []string{"github:alice"})
	require.NoError(t, err)
	require.Contains(t, msg, "widget")

	owners, err := svc.Owners(ctx, "widget")
	require.NoError(t, err)
	require.Len(t, owners, 1)
}
