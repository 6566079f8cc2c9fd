// Package boltstore implements the embedded-ordered registry store
// backend on top of a single bbolt database file.
package boltstore

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"go.etcd.io/bbolt"

	"github.com/ktra-go/registry/common"
	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
	"github.com/ktra-go/registry/internal/domain/store"
)

const (
	bucketName     = "registry"
	usersKey       = "__USERS__"
	passwordsKey   = "__PASSWORDS__"
	tokensKey      = "__TOKENS__"
	nonceKey       = "__OAUTH_NONCES__"
	schemaKey      = "__SCHEMA_VERSION__"
	legacyTokensKey = "tokens"
	schemaVersion  = 3
)

// Store is the bbolt-backed implementation of store.Store. All
// mutation goes through a package-level mutex held for the lifetime
// of the underlying *bbolt.DB handle, matching the single-writer
// contract bbolt itself already enforces at the transaction level.
type Store struct {
	db          *bbolt.DB
	loginPrefix string
}

var _ store.Store = (*Store)(nil)

// Open creates or opens the database file at path and runs the legacy
// token migration before returning.
func Open(path, loginPrefix string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, regerr.WrapIO(err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		return nil, regerr.WrapDB(err)
	}

	s := &Store{db: db, loginPrefix: loginPrefix}

	if err := s.MigrateLegacyTokens(context.Background()); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) LoginPrefix() string { return s.loginPrefix }

func (s *Store) get(tx *bbolt.Tx, key string) []byte {
	return tx.Bucket([]byte(bucketName)).Get([]byte(key))
}

func deserialize[T any](raw []byte) (T, error) {
	var v T

	if raw == nil {
		return v, nil
	}

	if err := json.Unmarshal(raw, &v); err != nil {
		var zero T
		return zero, regerr.ErrInvalidJSON(err)
	}

	return v, nil
}

func (s *Store) put(tx *bbolt.Tx, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return regerr.WrapSerialization(err)
	}

	return tx.Bucket([]byte(bucketName)).Put([]byte(key), raw)
}

func (s *Store) entry(tx *bbolt.Tx, name string) (entity.Entry, error) {
	raw := s.get(tx, entity.Normalize(name))
	if raw == nil {
		return entity.NewEntry(), nil
	}

	return deserialize[entity.Entry](raw)
}

func (s *Store) MigrateLegacyTokens(ctx context.Context) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if s.get(tx, schemaKey) != nil {
			return nil
		}

		legacy := s.get(tx, legacyTokensKey)
		if legacy == nil {
			return s.put(tx, schemaKey, schemaVersion)
		}

		if err := s.put(tx, tokensKey, json.RawMessage(legacy)); err != nil {
			return err
		}

		if err := tx.Bucket([]byte(bucketName)).Delete([]byte(legacyTokensKey)); err != nil {
			return regerr.WrapDB(err)
		}

		return s.put(tx, schemaKey, schemaVersion)
	})
}

func (s *Store) CanEditOwners(ctx context.Context, userID uint32, name string) (bool, error) {
	if err := entity.Validate(name); err != nil {
		return false, regerr.ErrInvalidCrateName(name)
	}

	var result bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		e, err := s.entry(tx, name)
		if err != nil {
			return err
		}

		if e.IsEmpty() {
			return regerr.ErrCrateNotFoundInDB(name)
		}

		if !common.Contains(e.OwnerIDs, userID) {
			return regerr.ErrInvalidUser(userID)
		}

		result = true

		return nil
	})

	return result, err
}

func (s *Store) Owners(ctx context.Context, name string) ([]entity.User, error) {
	var out []entity.User

	err := s.db.View(func(tx *bbolt.Tx) error {
		users, err := deserialize[[]entity.User](s.get(tx, usersKey))
		if err != nil {
			return err
		}

		e, err := s.entry(tx, name)
		if err != nil {
			return err
		}

		for _, u := range users {
			if common.Contains(e.OwnerIDs, u.ID) {
				out = append(out, u)
			}
		}

		return nil
	})

	return out, err
}

func (s *Store) editOwners(name string, logins []string, edit func(ids []uint32, e *entity.Entry)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		users, err := deserialize[[]entity.User](s.get(tx, usersKey))
		if err != nil {
			return err
		}

		byLogin := make(map[string]uint32, len(users))
		for _, u := range users {
			byLogin[u.Login] = u.ID
		}

		var ids []uint32

		var missing []string

		for _, l := range logins {
			id, ok := byLogin[l]
			if !ok {
				missing = append(missing, l)
				continue
			}

			ids = append(ids, id)
		}

		if len(missing) > 0 {
			return regerr.ErrInvalidLoginNames(missing)
		}

		e, err := s.entry(tx, name)
		if err != nil {
			return err
		}

		edit(ids, &e)

		return s.put(tx, entity.Normalize(name), e)
	})
}

func (s *Store) AddOwners(ctx context.Context, name string, logins []string) error {
	return s.editOwners(name, logins, func(ids []uint32, e *entity.Entry) {
		e.OwnerIDs = append(e.OwnerIDs, ids...)
		e.OwnerIDs = dedupU32(e.OwnerIDs)
	})
}

func (s *Store) RemoveOwners(ctx context.Context, name string, logins []string) error {
	return s.editOwners(name, logins, func(ids []uint32, e *entity.Entry) {
		e.OwnerIDs = removeAllU32(e.OwnerIDs, ids)
	})
}

func (s *Store) LastUserID(ctx context.Context) (*uint32, error) {
	var result *uint32

	err := s.db.View(func(tx *bbolt.Tx) error {
		tokens, err := deserialize[map[string]string](s.get(tx, tokensKey))
		if err != nil {
			return err
		}

		var max uint32

		found := false

		for k := range tokens {
			id, err := strconv.ParseUint(k, 10, 32)
			if err != nil {
				continue
			}

			if !found || uint32(id) > max {
				max = uint32(id)
				found = true
			}
		}

		if found {
			result = &max
		}

		return nil
	})

	return result, err
}

func (s *Store) UserIDForToken(ctx context.Context, token string) (uint32, error) {
	var result uint32

	err := s.db.View(func(tx *bbolt.Tx) error {
		tokens, err := deserialize[map[string]string](s.get(tx, tokensKey))
		if err != nil {
			return err
		}

		for k, v := range tokens {
			if v == token {
				id, err := strconv.ParseUint(k, 10, 32)
				if err != nil {
					return regerr.WrapSerialization(err)
				}

				result = uint32(id)

				return nil
			}
		}

		return regerr.ErrInvalidToken(token)
	})

	return result, err
}

func (s *Store) tokenByUser(user entity.User) (*string, error) {
	var result *string

	err := s.db.View(func(tx *bbolt.Tx) error {
		tokens, err := deserialize[map[string]string](s.get(tx, tokensKey))
		if err != nil {
			return err
		}

		if tok, ok := tokens[strconv.FormatUint(uint64(user.ID), 10)]; ok {
			result = &tok
		}

		return nil
	})

	return result, err
}

func (s *Store) TokenByLogin(ctx context.Context, login string) (*string, error) {
	user, err := s.UserByLogin(ctx, login)
	if err != nil {
		return nil, nil
	}

	return s.tokenByUser(user)
}

func (s *Store) TokenByUsername(ctx context.Context, name string) (*string, error) {
	user, err := s.UserByUsername(ctx, name)
	if err != nil {
		return nil, nil
	}

	return s.tokenByUser(user)
}

func (s *Store) SetToken(ctx context.Context, userID uint32, token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		tokens, err := deserialize[map[string]string](s.get(tx, tokensKey))
		if err != nil {
			return err
		}

		if tokens == nil {
			tokens = map[string]string{}
		}

		tokens[strconv.FormatUint(uint64(userID), 10)] = token

		return s.put(tx, tokensKey, tokens)
	})
}

func (s *Store) userByLogin(tx *bbolt.Tx, login string) (entity.User, error) {
	users, err := deserialize[[]entity.User](s.get(tx, usersKey))
	if err != nil {
		return entity.User{}, err
	}

	for _, u := range users {
		if u.Login == login {
			return u, nil
		}
	}

	return entity.User{}, regerr.ErrInvalidLogin(login)
}

func (s *Store) UserByLogin(ctx context.Context, login string) (entity.User, error) {
	var result entity.User

	err := s.db.View(func(tx *bbolt.Tx) error {
		u, err := s.userByLogin(tx, login)
		result = u

		return err
	})

	return result, err
}

func (s *Store) UserByUsername(ctx context.Context, name string) (entity.User, error) {
	user, err := s.UserByLogin(ctx, s.loginPrefix+name)
	if err != nil {
		return entity.User{}, regerr.ErrInvalidUsername(name)
	}

	return user, nil
}

func (s *Store) AddNewUser(ctx context.Context, user entity.User, password string) error {
	encoded, err := store.HashPassword(password)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		users, err := deserialize[[]entity.User](s.get(tx, usersKey))
		if err != nil {
			return err
		}

		for _, u := range users {
			if u.Login == user.Login {
				return regerr.ErrUserExists(user.Login)
			}
		}

		passwords, err := deserialize[map[string]string](s.get(tx, passwordsKey))
		if err != nil {
			return err
		}

		if passwords == nil {
			passwords = map[string]string{}
		}

		passwords[strconv.FormatUint(uint64(user.ID), 10)] = encoded

		if err := s.put(tx, passwordsKey, passwords); err != nil {
			return err
		}

		users = append(users, user)
		sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

		return s.put(tx, usersKey, users)
	})
}

func (s *Store) VerifyPassword(ctx context.Context, userID uint32, password string) (bool, error) {
	var stored string

	err := s.db.View(func(tx *bbolt.Tx) error {
		passwords, err := deserialize[map[string]string](s.get(tx, passwordsKey))
		if err != nil {
			return err
		}

		v, ok := passwords[strconv.FormatUint(uint64(userID), 10)]
		if !ok {
			return regerr.ErrInvalidUser(userID)
		}

		stored = v

		return nil
	})
	if err != nil {
		return false, err
	}

	return store.VerifyEncodedPassword(stored, password)
}

func (s *Store) ChangePassword(ctx context.Context, userID uint32, oldPassword, newPassword string) error {
	if oldPassword == newPassword {
		return regerr.ErrSamePasswords()
	}

	var stored string

	if err := s.db.View(func(tx *bbolt.Tx) error {
		passwords, err := deserialize[map[string]string](s.get(tx, passwordsKey))
		if err != nil {
			return err
		}

		v, ok := passwords[strconv.FormatUint(uint64(userID), 10)]
		if !ok {
			return regerr.ErrInvalidUser(userID)
		}

		stored = v

		return nil
	}); err != nil {
		return err
	}

	ok, err := store.VerifyEncodedPassword(stored, oldPassword)
	if err != nil {
		return err
	}

	if !ok {
		return regerr.ErrInvalidPassword()
	}

	newEncoded, err := store.HashPassword(newPassword)
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		passwords, err := deserialize[map[string]string](s.get(tx, passwordsKey))
		if err != nil {
			return err
		}

		passwords[strconv.FormatUint(uint64(userID), 10)] = newEncoded

		return s.put(tx, passwordsKey, passwords)
	})
}

func (s *Store) CanAddMetadata(ctx context.Context, userID uint32, name string, version *semver.Version) (bool, error) {
	if err := entity.Validate(name); err != nil {
		return false, regerr.ErrInvalidCrateName(name)
	}

	var result bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		e, err := s.entry(tx, name)
		if err != nil {
			return err
		}

		if e.IsEmpty() {
			result = true
			return nil
		}

		if !common.Contains(e.OwnerIDs, userID) {
			return regerr.ErrInvalidUser(userID)
		}

		if _, ok := e.Versions[version.Original()]; ok {
			return regerr.ErrVersionExists(name, version.Original())
		}

		latest, err := e.LatestVersion()
		if err != nil {
			return regerr.WrapSerialization(err)
		}

		if latest != nil {
			if p, ok := e.Versions[latest.Original()]; ok {
				result = p.Name == name
			}
		}

		return nil
	})

	return result, err
}

func (s *Store) AddNewMetadata(ctx context.Context, ownerID uint32, metadata entity.Metadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		e, err := s.entry(tx, metadata.Name)
		if err != nil {
			return err
		}

		if e.IsEmpty() {
			e.OwnerIDs = append(e.OwnerIDs, ownerID)
		}

		if !common.Contains(e.OwnerIDs, ownerID) {
			return regerr.ErrInvalidUser(ownerID)
		}

		e.Versions[metadata.Vers] = metadata

		return s.put(tx, entity.Normalize(metadata.Name), e)
	})
}

func (s *Store) CanEditPackage(ctx context.Context, userID uint32, name string, version *semver.Version) (bool, error) {
	if err := entity.Validate(name); err != nil {
		return false, regerr.ErrInvalidCrateName(name)
	}

	var result bool

	err := s.db.View(func(tx *bbolt.Tx) error {
		e, err := s.entry(tx, name)
		if err != nil {
			return err
		}

		if e.IsEmpty() {
			return regerr.ErrCrateNotFoundInDB(name)
		}

		if !common.Contains(e.OwnerIDs, userID) {
			return regerr.ErrInvalidUser(userID)
		}

		p, ok := e.Versions[version.Original()]
		if !ok {
			return regerr.ErrVersionNotFoundInDB(version.Original())
		}

		result = p.Name == name

		return nil
	})

	return result, err
}

func (s *Store) changeYanked(name string, version *semver.Version, yanked bool, noChange func(name, vers string) error) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		e, err := s.entry(tx, name)
		if err != nil {
			return err
		}

		m, ok := e.Versions[version.Original()]
		if !ok {
			return regerr.ErrVersionNotFoundInDB(version.Original())
		}

		if m.Yanked == yanked {
			return noChange(name, version.Original())
		}

		m.Yanked = yanked
		e.Versions[version.Original()] = m

		return s.put(tx, entity.Normalize(name), e)
	})
}

func (s *Store) Yank(ctx context.Context, name string, version *semver.Version) error {
	return s.changeYanked(name, version, true, func(n, v string) error {
		return regerr.ErrAlreadyYanked(n, v)
	})
}

func (s *Store) Unyank(ctx context.Context, name string, version *semver.Version) error {
	return s.changeYanked(name, version, false, func(n, v string) error {
		return regerr.ErrNotYetYanked(n, v)
	})
}

func (s *Store) Search(ctx context.Context, query entity.Query) (entity.Search, error) {
	needle := entity.Normalize(query.String)

	limit := query.Limit
	if limit <= 0 {
		limit = entity.DefaultQueryLimit
	}

	var (
		found []entity.SearchedMetadata
		errs  []error
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))

		return b.ForEach(func(k, v []byte) error {
			key := string(k)
			if key == usersKey || key == passwordsKey || key == tokensKey ||
				key == schemaKey || key == nonceKey {
				return nil
			}

			if !containsSubstr(key, needle) {
				return nil
			}

			e, err := deserialize[entity.Entry](v)
			if err != nil {
				errs = append(errs, err)
				return nil
			}

			var latest *entity.Metadata

			var latestSemver *semver.Version

			for vers, m := range e.Versions {
				if m.Yanked {
					continue
				}

				sv, err := semver.NewVersion(vers)
				if err != nil {
					continue
				}

				if latest == nil || sv.GreaterThan(latestSemver) {
					mm := m
					latest = &mm
					latestSemver = sv
				}
			}

			if latest != nil {
				found = append(found, latest.ToSearched())
			}

			return nil
		})
	})
	if err != nil {
		return entity.Search{}, err
	}

	if len(errs) > 0 {
		return entity.Search{}, regerr.ErrMultiple(errs)
	}

	total := len(found)

	if limit < len(found) {
		found = found[:limit]
	}

	return entity.NewSearch(found, total), nil
}

func (s *Store) StoreNonceByCsrf(ctx context.Context, state, nonce string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		nonces, err := deserialize[map[string]string](s.get(tx, nonceKey))
		if err != nil {
			return err
		}

		if nonces == nil {
			nonces = map[string]string{}
		}

		nonces[state] = nonce

		return s.put(tx, nonceKey, nonces)
	})
}

func (s *Store) NonceByCsrf(ctx context.Context, state string) (string, error) {
	var result string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		nonces, err := deserialize[map[string]string](s.get(tx, nonceKey))
		if err != nil {
			return err
		}

		v, ok := nonces[state]
		if !ok {
			return regerr.ErrInvalidCsrfToken()
		}

		result = v
		delete(nonces, state)

		return s.put(tx, nonceKey, nonces)
	})

	return result, err
}

func dedupU32(s []uint32) []uint32 {
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })

	out := s[:0]

	for i, v := range s {
		if i == 0 || v != out[len(out)-1] {
			out = append(out, v)
		}
	}

	return out
}

func removeAllU32(s []uint32, remove []uint32) []uint32 {
	out := s[:0]

	for _, v := range s {
		if !common.Contains(remove, v) {
			out = append(out, v)
		}
	}

	return out
}

func containsSubstr(haystack, needle string) bool {
	if needle == "" {
		return true
	}

	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}

	return false
}
