package mirror

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDownloadServesFromCache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "widget", "1.0.0", "download")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("cached-tarball"), 0o644))

	svc := New(dir)

	data, err := svc.Download(context.Background(), "widget", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, "cached-tarball", string(data))
}

func TestDownloadFetchesAndCaches(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/widget/1.0.0/download", r.URL.Path)
		_, _ = w.Write([]byte("fetched-tarball"))
	}))
	defer upstream.Close()

	dir := t.TempDir()
	svc := &Service{HTTPClient: upstream.Client(), CacheDir: dir, BaseURL: upstream.URL + "/"}

	data, err := svc.Download(context.Background(), "widget", "1.0.0")
	require.NoError(t, err)
	require.Equal(t, "fetched-tarball", string(data))

	require.FileExists(t, filepath.Join(dir, "widget", "1.0.0", "download"))
}

func TestDownloadEmptyResponseIsInvalid(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer upstream.Close()

	svc := &Service{HTTPClient: upstream.Client(), CacheDir: t.TempDir(), BaseURL: upstream.URL + "/"}

	_, err := svc.Download(context.Background(), "widget", "1.0.0")
	require.Error(t, err)
}

func TestFileExistsAndNotEmpty(t *testing.T) {
	dir := t.TempDir()

	require.False(t, fileExistsAndNotEmpty(filepath.Join(dir, "missing")))

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	require.False(t, fileExistsAndNotEmpty(empty))

	nonEmpty := filepath.Join(dir, "present")
	require.NoError(t, os.WriteFile(nonEmpty, []byte("x"), 0o644))
	require.True(t, fileExistsAndNotEmpty(nonEmpty))
}
