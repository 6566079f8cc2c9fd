// Package mongostore implements the document-store registry backend
// on top of MongoDB. Every record boltstore/rediskv keep as a single
// bucket/hash entry is instead a document in a "kv" collection keyed
// by _id, keeping the three backends' semantics identical while
// letting this one benefit from Mongo's native document storage for
// the per-crate entries.
package mongostore

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/Masterminds/semver/v3"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ktra-go/registry/common"
	"github.com/ktra-go/registry/common/mmongo"
	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
	"github.com/ktra-go/registry/internal/domain/store"
)

const (
	collectionName  = "kv"
	usersID         = "__USERS__"
	passwordsID     = "__PASSWORDS__"
	tokensID        = "__TOKENS__"
	nonceID         = "__OAUTH_NONCES__"
	schemaID        = "__SCHEMA_VERSION__"
	legacyTokensID  = "tokens"
	schemaVersion   = 3
)

type kvDocument struct {
	ID   string `bson:"_id"`
	Data string `bson:"data"`
}

// Store is the MongoDB-backed implementation of store.Store.
type Store struct {
	conn        *mmongo.MongoConnection
	loginPrefix string
}

var _ store.Store = (*Store)(nil)

// Open connects to MongoDB at connectionString/database and runs the
// legacy token migration.
func Open(ctx context.Context, connectionString, database, loginPrefix string) (*Store, error) {
	conn := &mmongo.MongoConnection{ConnectionStringSource: connectionString, Database: database}
	if _, err := conn.GetDB(ctx); err != nil {
		return nil, regerr.WrapDB(err)
	}

	s := &Store{conn: conn, loginPrefix: loginPrefix}

	if err := s.MigrateLegacyTokens(ctx); err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Store) Close() error {
	client, err := s.conn.GetDB(context.Background())
	if err != nil {
		return nil
	}

	return client.Disconnect(context.Background())
}

func (s *Store) LoginPrefix() string { return s.loginPrefix }

func (s *Store) collection(ctx context.Context) (*mongo.Collection, error) {
	client, err := s.conn.GetDB(ctx)
	if err != nil {
		return nil, regerr.WrapDB(err)
	}

	return client.Database(s.conn.Database).Collection(collectionName), nil
}

func (s *Store) get(ctx context.Context, id string) ([]byte, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}

	var doc kvDocument

	err = coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}

	if err != nil {
		return nil, regerr.WrapDB(err)
	}

	return []byte(doc.Data), nil
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

func (s *Store) put(ctx context.Context, id string, value any) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return regerr.WrapSerialization(err)
	}

	opts := options.Replace().SetUpsert(true)
	_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, kvDocument{ID: id, Data: string(raw)}, opts)
	if err != nil {
		return regerr.WrapDB(err)
	}

	return nil
}

func (s *Store) delete(ctx context.Context, id string) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}

	if _, err := coll.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return regerr.WrapDB(err)
	}

	return nil
}

func (s *Store) entry(ctx context.Context, name string) (entity.Entry, error) {
	raw, err := s.get(ctx, entity.Normalize(name))
	if err != nil {
		return entity.Entry{}, err
	}

	if raw == nil {
		return entity.NewEntry(), nil
	}

	return deserialize[entity.Entry](raw)
}

func (s *Store) MigrateLegacyTokens(ctx context.Context) error {
	schema, err := s.get(ctx, schemaID)
	if err != nil {
		return err
	}

	if schema != nil {
		return nil
	}

	legacy, err := s.get(ctx, legacyTokensID)
	if err != nil {
		return err
	}

	if legacy != nil {
		if err := s.put(ctx, tokensID, json.RawMessage(legacy)); err != nil {
			return err
		}

		if err := s.delete(ctx, legacyTokensID); err != nil {
			return err
		}
	}

	return s.put(ctx, schemaID, schemaVersion)
}

func (s *Store) CanEditOwners(ctx context.Context, userID uint32, name string) (bool, error) {
	if err := entity.Validate(name); err != nil {
		return false, regerr.ErrInvalidCrateName(name)
	}

	e, err := s.entry(ctx, name)
	if err != nil {
		return false, err
	}

	if e.IsEmpty() {
		return false, regerr.ErrCrateNotFoundInDB(name)
	}

	if !common.Contains(e.OwnerIDs, userID) {
		return false, regerr.ErrInvalidUser(userID)
	}

	return true, nil
}

func (s *Store) Owners(ctx context.Context, name string) ([]entity.User, error) {
	raw, err := s.get(ctx, usersID)
	if err != nil {
		return nil, err
	}

	users, err := deserialize[[]entity.User](raw)
	if err != nil {
		return nil, err
	}

	e, err := s.entry(ctx, name)
	if err != nil {
		return nil, err
	}

	var out []entity.User

	for _, u := range users {
		if common.Contains(e.OwnerIDs, u.ID) {
			out = append(out, u)
		}
	}

	return out, nil
}

func (s *Store) editOwners(ctx context.Context, name string, logins []string, edit func(ids []uint32, e *entity.Entry)) error {
	raw, err := s.get(ctx, usersID)
	if err != nil {
		return err
	}

	users, err := deserialize[[]entity.User](raw)
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

	e, err := s.entry(ctx, name)
	if err != nil {
		return err
	}

	edit(ids, &e)

	return s.put(ctx, entity.Normalize(name), e)
}

func (s *Store) AddOwners(ctx context.Context, name string, logins []string) error {
	return s.editOwners(ctx, name, logins, func(ids []uint32, e *entity.Entry) {
		e.OwnerIDs = append(e.OwnerIDs, ids...)
		e.OwnerIDs = dedupU32(e.OwnerIDs)
	})
}

func (s *Store) RemoveOwners(ctx context.Context, name string, logins []string) error {
	return s.editOwners(ctx, name, logins, func(ids []uint32, e *entity.Entry) {
		e.OwnerIDs = removeAllU32(e.OwnerIDs, ids)
	})
}

func (s *Store) LastUserID(ctx context.Context) (*uint32, error) {
	raw, err := s.get(ctx, tokensID)
	if err != nil {
		return nil, err
	}

	tokens, err := deserialize[map[string]string](raw)
	if err != nil {
		return nil, err
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

	if !found {
		return nil, nil
	}

	return &max, nil
}

func (s *Store) UserIDForToken(ctx context.Context, token string) (uint32, error) {
	raw, err := s.get(ctx, tokensID)
	if err != nil {
		return 0, err
	}

	tokens, err := deserialize[map[string]string](raw)
	if err != nil {
		return 0, err
	}

	for k, v := range tokens {
		if v == token {
			id, err := strconv.ParseUint(k, 10, 32)
			if err != nil {
				return 0, regerr.WrapSerialization(err)
			}

			return uint32(id), nil
		}
	}

	return 0, regerr.ErrInvalidToken(token)
}

func (s *Store) tokenByUser(ctx context.Context, user entity.User) (*string, error) {
	raw, err := s.get(ctx, tokensID)
	if err != nil {
		return nil, err
	}

	tokens, err := deserialize[map[string]string](raw)
	if err != nil {
		return nil, err
	}

	if tok, ok := tokens[strconv.FormatUint(uint64(user.ID), 10)]; ok {
		return &tok, nil
	}

	return nil, nil
}

func (s *Store) TokenByLogin(ctx context.Context, login string) (*string, error) {
	user, err := s.UserByLogin(ctx, login)
	if err != nil {
		return nil, nil
	}

	return s.tokenByUser(ctx, user)
}

func (s *Store) TokenByUsername(ctx context.Context, name string) (*string, error) {
	user, err := s.UserByUsername(ctx, name)
	if err != nil {
		return nil, nil
	}

	return s.tokenByUser(ctx, user)
}

func (s *Store) SetToken(ctx context.Context, userID uint32, token string) error {
	raw, err := s.get(ctx, tokensID)
	if err != nil {
		return err
	}

	tokens, err := deserialize[map[string]string](raw)
	if err != nil {
		return err
	}

	if tokens == nil {
		tokens = map[string]string{}
	}

	tokens[strconv.FormatUint(uint64(userID), 10)] = token

	return s.put(ctx, tokensID, tokens)
}

func (s *Store) UserByLogin(ctx context.Context, login string) (entity.User, error) {
	raw, err := s.get(ctx, usersID)
	if err != nil {
		return entity.User{}, err
	}

	users, err := deserialize[[]entity.User](raw)
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

	raw, err := s.get(ctx, usersID)
	if err != nil {
		return err
	}

	users, err := deserialize[[]entity.User](raw)
	if err != nil {
		return err
	}

	for _, u := range users {
		if u.Login == user.Login {
			return regerr.ErrUserExists(user.Login)
		}
	}

	rawPw, err := s.get(ctx, passwordsID)
	if err != nil {
		return err
	}

	passwords, err := deserialize[map[string]string](rawPw)
	if err != nil {
		return err
	}

	if passwords == nil {
		passwords = map[string]string{}
	}

	passwords[strconv.FormatUint(uint64(user.ID), 10)] = encoded

	if err := s.put(ctx, passwordsID, passwords); err != nil {
		return err
	}

	users = append(users, user)
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })

	return s.put(ctx, usersID, users)
}

func (s *Store) VerifyPassword(ctx context.Context, userID uint32, password string) (bool, error) {
	raw, err := s.get(ctx, passwordsID)
	if err != nil {
		return false, err
	}

	passwords, err := deserialize[map[string]string](raw)
	if err != nil {
		return false, err
	}

	stored, ok := passwords[strconv.FormatUint(uint64(userID), 10)]
	if !ok {
		return false, regerr.ErrInvalidUser(userID)
	}

	return store.VerifyEncodedPassword(stored, password)
}

func (s *Store) ChangePassword(ctx context.Context, userID uint32, oldPassword, newPassword string) error {
	if oldPassword == newPassword {
		return regerr.ErrSamePasswords()
	}

	raw, err := s.get(ctx, passwordsID)
	if err != nil {
		return err
	}

	passwords, err := deserialize[map[string]string](raw)
	if err != nil {
		return err
	}

	key := strconv.FormatUint(uint64(userID), 10)

	stored, ok := passwords[key]
	if !ok {
		return regerr.ErrInvalidUser(userID)
	}

	ok2, err := store.VerifyEncodedPassword(stored, oldPassword)
	if err != nil {
		return err
	}

	if !ok2 {
		return regerr.ErrInvalidPassword()
	}

	newEncoded, err := store.HashPassword(newPassword)
	if err != nil {
		return err
	}

	passwords[key] = newEncoded

	return s.put(ctx, passwordsID, passwords)
}

func (s *Store) CanAddMetadata(ctx context.Context, userID uint32, name string, version *semver.Version) (bool, error) {
	if err := entity.Validate(name); err != nil {
		return false, regerr.ErrInvalidCrateName(name)
	}

	e, err := s.entry(ctx, name)
	if err != nil {
		return false, err
	}

	if e.IsEmpty() {
		return true, nil
	}

	if !common.Contains(e.OwnerIDs, userID) {
		return false, regerr.ErrInvalidUser(userID)
	}

	if _, ok := e.Versions[version.Original()]; ok {
		return false, regerr.ErrVersionExists(name, version.Original())
	}

	latest, err := e.LatestVersion()
	if err != nil {
		return false, regerr.WrapSerialization(err)
	}

	if latest != nil {
		if p, ok := e.Versions[latest.Original()]; ok {
			return p.Name == name, nil
		}
	}

	return false, nil
}

func (s *Store) AddNewMetadata(ctx context.Context, ownerID uint32, metadata entity.Metadata) error {
	e, err := s.entry(ctx, metadata.Name)
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

	return s.put(ctx, entity.Normalize(metadata.Name), e)
}

func (s *Store) CanEditPackage(ctx context.Context, userID uint32, name string, version *semver.Version) (bool, error) {
	if err := entity.Validate(name); err != nil {
		return false, regerr.ErrInvalidCrateName(name)
	}

	e, err := s.entry(ctx, name)
	if err != nil {
		return false, err
	}

	if e.IsEmpty() {
		return false, regerr.ErrCrateNotFoundInDB(name)
	}

	if !common.Contains(e.OwnerIDs, userID) {
		return false, regerr.ErrInvalidUser(userID)
	}

	p, ok := e.Versions[version.Original()]
	if !ok {
		return false, regerr.ErrVersionNotFoundInDB(version.Original())
	}

	return p.Name == name, nil
}

func (s *Store) changeYanked(ctx context.Context, name string, version *semver.Version, yanked bool, noChange func(name, vers string) error) error {
	e, err := s.entry(ctx, name)
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

	return s.put(ctx, entity.Normalize(name), e)
}

func (s *Store) Yank(ctx context.Context, name string, version *semver.Version) error {
	return s.changeYanked(ctx, name, version, true, func(n, v string) error {
		return regerr.ErrAlreadyYanked(n, v)
	})
}

func (s *Store) Unyank(ctx context.Context, name string, version *semver.Version) error {
	return s.changeYanked(ctx, name, version, false, func(n, v string) error {
		return regerr.ErrNotYetYanked(n, v)
	})
}

func (s *Store) Search(ctx context.Context, query entity.Query) (entity.Search, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return entity.Search{}, err
	}

	cur, err := coll.Find(ctx, bson.M{})
	if err != nil {
		return entity.Search{}, regerr.WrapDB(err)
	}

	defer cur.Close(ctx)

	needle := entity.Normalize(query.String)

	limit := query.Limit
	if limit <= 0 {
		limit = entity.DefaultQueryLimit
	}

	var (
		found []entity.SearchedMetadata
		errs  []error
	)

	for cur.Next(ctx) {
		var doc kvDocument
		if err := cur.Decode(&doc); err != nil {
			errs = append(errs, regerr.WrapDB(err))
			continue
		}

		if doc.ID == usersID || doc.ID == passwordsID || doc.ID == tokensID ||
			doc.ID == schemaID || doc.ID == nonceID {
			continue
		}

		if !containsSubstr(doc.ID, needle) {
			continue
		}

		e, err := deserialize[entity.Entry]([]byte(doc.Data))
		if err != nil {
			errs = append(errs, err)
			continue
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
	raw, err := s.get(ctx, nonceID)
	if err != nil {
		return err
	}

	nonces, err := deserialize[map[string]string](raw)
	if err != nil {
		return err
	}

	if nonces == nil {
		nonces = map[string]string{}
	}

	nonces[state] = nonce

	return s.put(ctx, nonceID, nonces)
}

func (s *Store) NonceByCsrf(ctx context.Context, state string) (string, error) {
	raw, err := s.get(ctx, nonceID)
	if err != nil {
		return "", err
	}

	nonces, err := deserialize[map[string]string](raw)
	if err != nil {
		return "", err
	}

	v, ok := nonces[state]
	if !ok {
		return "", regerr.ErrInvalidCsrfToken()
	}

	delete(nonces, state)

	return v, s.put(ctx, nonceID, nonces)
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
