// Package registry implements the publish/yank/owners/search
// operations against a Store and an Index Manager.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/indexmgr"
	"github.com/ktra-go/registry/internal/domain/regerr"
	"github.com/ktra-go/registry/internal/domain/store"
)

// Service wires together a metadata Store and an index.Manager to
// implement the crate publish/yank/owners protocol.
type Service struct {
	Store    store.Store
	Index    *indexmgr.Manager
	CrateDir string
}

// New builds a Service.
func New(st store.Store, idx *indexmgr.Manager, crateDir string) *Service {
	return &Service{Store: st, Index: idx, CrateDir: crateDir}
}

// Publish parses a publish request body (length-prefixed metadata
// JSON, then length-prefixed crate tarball bytes) and, if every check
// passes, persists the tarball, inserts the metadata into the store
// and pushes the new index line. The ordering here --
// tarball write, then store insert, then index push -- is deliberate:
// a failed index push after the store commit leaves a crate that
// exists in the store but isn't yet discoverable in the index, which
// is recoverable by retrying the push; a failed store insert after a
// successful index push would leave the index claiming a version the
// store never recorded, which is not.
func (s *Service) Publish(ctx context.Context, token string, body []byte) (entity.Metadata, error) {
	userID, err := s.Store.UserIDForToken(ctx, token)
	if err != nil {
		return entity.Metadata{}, err
	}

	metadataLen, rest, err := readLength(body)
	if err != nil {
		return entity.Metadata{}, err
	}

	metadataBytes, rest, err := readExactly(rest, metadataLen)
	if err != nil {
		return entity.Metadata{}, err
	}

	var metadata entity.Metadata
	if err := json.Unmarshal(metadataBytes, &metadata); err != nil {
		return entity.Metadata{}, regerr.ErrInvalidJSON(err)
	}

	version, err := metadata.SemverVersion()
	if err != nil {
		return entity.Metadata{}, regerr.ErrInvalidCrateName(metadata.Name)
	}

	unlock := store.Lock(s.Store)
	defer unlock()

	addable, err := s.Store.CanAddMetadata(ctx, userID, metadata.Name, version)
	if err != nil {
		return entity.Metadata{}, err
	}

	if !addable {
		return entity.Metadata{}, regerr.ErrOverlappedCrateName(metadata.Name)
	}

	crateLen, rest, err := readLength(rest)
	if err != nil {
		return entity.Metadata{}, err
	}

	crateData, rest, err := readExactly(rest, crateLen)
	if err != nil {
		return entity.Metadata{}, err
	}

	if len(rest) != 0 {
		return entity.Metadata{}, regerr.ErrInvalidBodyLength(len(rest))
	}

	if err := s.saveCrateFile(metadata.Name, metadata.Vers, crateData); err != nil {
		return entity.Metadata{}, err
	}

	if err := s.Store.AddNewMetadata(ctx, userID, metadata); err != nil {
		return entity.Metadata{}, err
	}

	pkg := metadata.ToPackage(checksum(crateData))
	if err := s.Index.AddPackage(pkg); err != nil {
		return entity.Metadata{}, err
	}

	return metadata, nil
}

func (s *Service) saveCrateFile(name, vers string, data []byte) error {
	dir := filepath.Join(s.CrateDir, name, vers)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return regerr.WrapIO(err)
	}

	if err := os.WriteFile(filepath.Join(dir, "download"), data, 0o644); err != nil {
		return regerr.WrapIO(err)
	}

	return nil
}

// DownloadPath returns the on-disk path of a previously published
// crate tarball.
func (s *Service) DownloadPath(name, vers string) string {
	return filepath.Join(s.CrateDir, name, vers, "download")
}

// Unyank marks a published version as not-yanked in both the store
// and the index.
func (s *Service) Unyank(ctx context.Context, token, name, vers string) error {
	return s.changeYanked(ctx, token, name, vers, false)
}

// Yank marks a published version as yanked in both the store and the
// index.
func (s *Service) Yank(ctx context.Context, token, name, vers string) error {
	return s.changeYanked(ctx, token, name, vers, true)
}

func (s *Service) changeYanked(ctx context.Context, token, name, vers string, yanked bool) error {
	userID, err := s.Store.UserIDForToken(ctx, token)
	if err != nil {
		return err
	}

	version, err := semver.NewVersion(vers)
	if err != nil {
		return regerr.ErrInvalidCrateName(name)
	}

	unlock := store.Lock(s.Store)
	defer unlock()

	editable, err := s.Store.CanEditPackage(ctx, userID, name, version)
	if err != nil {
		return err
	}

	if !editable {
		return regerr.ErrOverlappedCrateName(name)
	}

	if yanked {
		if err := s.Index.Yank(name, vers); err != nil {
			return err
		}

		return s.Store.Yank(ctx, name, version)
	}

	if err := s.Index.Unyank(name, vers); err != nil {
		return err
	}

	return s.Store.Unyank(ctx, name, version)
}

// AddOwners grants ownership of a crate to the given logins.
func (s *Service) AddOwners(ctx context.Context, token, name string, logins []string) (string, error) {
	if len(logins) == 0 {
		return "", regerr.ErrLoginsNotDefined()
	}

	userID, err := s.Store.UserIDForToken(ctx, token)
	if err != nil {
		return "", err
	}

	unlock := store.Lock(s.Store)
	defer unlock()

	if _, err := s.Store.CanEditOwners(ctx, userID, name); err != nil {
		return "", err
	}

	if err := s.Store.AddOwners(ctx, name, logins); err != nil {
		return "", err
	}

	if len(logins) == 1 {
		return fmt.Sprintf("user %s has been added to the owners list of crate %s", logins[0], name), nil
	}

	return fmt.Sprintf("users %s have been added to the owners list of crate %s", debugList(logins), name), nil
}

// RemoveOwners revokes ownership of a crate from the given logins.
func (s *Service) RemoveOwners(ctx context.Context, token, name string, logins []string) (string, error) {
	if len(logins) == 0 {
		return "", regerr.ErrLoginsNotDefined()
	}

	userID, err := s.Store.UserIDForToken(ctx, token)
	if err != nil {
		return "", err
	}

	unlock := store.Lock(s.Store)
	defer unlock()

	if _, err := s.Store.CanEditOwners(ctx, userID, name); err != nil {
		return "", err
	}

	if err := s.Store.RemoveOwners(ctx, name, logins); err != nil {
		return "", err
	}

	return fmt.Sprintf("users %s have been removed from the owners list of crate %s", debugList(logins), name), nil
}

// Owners lists a crate's current owners. The registry protocol
// requires a bearer token on this request but never checks it against
// the crate, since listing owners does not mutate anything.
func (s *Service) Owners(ctx context.Context, name string) ([]entity.User, error) {
	return s.Store.Owners(ctx, name)
}

// Search runs a crate name/description search.
func (s *Service) Search(ctx context.Context, query entity.Query) (entity.Search, error) {
	return s.Store.Search(ctx, query)
}

func readLength(data []byte) (int, []byte, error) {
	if len(data) < 4 {
		return 0, nil, regerr.ErrInvalidBodyLength(len(data))
	}

	n := binary.LittleEndian.Uint32(data[:4])

	return int(n), data[4:], nil
}

func readExactly(data []byte, n int) ([]byte, []byte, error) {
	if len(data) < n {
		return nil, nil, regerr.ErrInvalidBodyLength(len(data))
	}

	return data[:n], data[n:], nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// debugList renders logins the way Rust's `{:?}` formats a
// Vec<String>: a quoted, comma-separated list in brackets.
func debugList(logins []string) string {
	quoted := make([]string, len(logins))
	for i, l := range logins {
		quoted[i] = strconv.Quote(l)
	}

	return "[" + strings.Join(quoted, ", ") + "]"
}
