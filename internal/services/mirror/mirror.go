// Package mirror implements an optional write-through cache in front
// of crates.io, serving previously-downloaded tarballs from disk and
// fetching+caching on first request.
package mirror

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/ktra-go/registry/internal/domain/regerr"
)

const crateIOBaseURL = "https://crates.io/api/v1/crates/"

// Service caches crates.io tarballs under CacheDir/<name>/<vers>/download.
type Service struct {
	HTTPClient *http.Client
	CacheDir   string
	// BaseURL overrides crateIOBaseURL; empty means crates.io itself.
	BaseURL string
}

// New builds a Service with a default HTTP client pointed at crates.io.
func New(cacheDir string) *Service {
	return &Service{HTTPClient: http.DefaultClient, CacheDir: cacheDir}
}

// Download returns the tarball bytes for name@vers, serving from the
// on-disk cache when present and non-empty, otherwise fetching from
// crates.io, writing the cache file, and returning the fetched bytes.
func (s *Service) Download(ctx context.Context, name, vers string) ([]byte, error) {
	path := filepath.Join(s.CacheDir, name, vers, "download")

	if fileExistsAndNotEmpty(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, regerr.WrapIO(err)
		}

		return data, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, regerr.WrapIO(err)
	}

	data, err := s.fetch(ctx, name, vers)
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, regerr.ErrInvalidHTTPResponseLength()
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, regerr.WrapIO(err)
	}

	return data, nil
}

func (s *Service) fetch(ctx context.Context, name, vers string) ([]byte, error) {
	baseURL := s.BaseURL
	if baseURL == "" {
		baseURL = crateIOBaseURL
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, regerr.WrapURLParsing(err)
	}

	target, err := base.Parse(name + "/" + vers + "/download")
	if err != nil {
		return nil, regerr.WrapURLParsing(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, regerr.WrapHTTPRequest(err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, regerr.WrapHTTPRequest(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, regerr.WrapHTTPRequest(&httpStatusError{resp.StatusCode})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, regerr.WrapHTTPRequest(err)
	}

	return body, nil
}

func fileExistsAndNotEmpty(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}

	return !info.IsDir() && info.Size() > 0
}

type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return http.StatusText(e.code)
}
