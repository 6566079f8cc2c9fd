// Package store defines the abstract metadata store the registry is
// built against. Three backends implement it: an embedded ordered
// store (bbolt), a remote key-value store (Redis) and a document
// store (MongoDB).
package store

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/ktra-go/registry/internal/domain/entity"
)

// Store is the backend-agnostic surface every registry operation is
// written against. Implementations own their own connection
// lifecycle; Close releases it.
type Store interface {
	LoginPrefix() string

	CanEditOwners(ctx context.Context, userID uint32, name string) (bool, error)
	Owners(ctx context.Context, name string) ([]entity.User, error)
	AddOwners(ctx context.Context, name string, logins []string) error
	RemoveOwners(ctx context.Context, name string, logins []string) error

	LastUserID(ctx context.Context) (*uint32, error)
	UserIDForToken(ctx context.Context, token string) (uint32, error)
	TokenByLogin(ctx context.Context, login string) (*string, error)
	TokenByUsername(ctx context.Context, name string) (*string, error)
	SetToken(ctx context.Context, userID uint32, token string) error
	UserByUsername(ctx context.Context, name string) (entity.User, error)
	UserByLogin(ctx context.Context, login string) (entity.User, error)
	AddNewUser(ctx context.Context, user entity.User, password string) error
	VerifyPassword(ctx context.Context, userID uint32, password string) (bool, error)
	ChangePassword(ctx context.Context, userID uint32, oldPassword, newPassword string) error

	CanAddMetadata(ctx context.Context, userID uint32, name string, version *semver.Version) (bool, error)
	AddNewMetadata(ctx context.Context, ownerID uint32, metadata entity.Metadata) error

	CanEditPackage(ctx context.Context, userID uint32, name string, version *semver.Version) (bool, error)
	Yank(ctx context.Context, name string, version *semver.Version) error
	Unyank(ctx context.Context, name string, version *semver.Version) error

	Search(ctx context.Context, query entity.Query) (entity.Search, error)

	StoreNonceByCsrf(ctx context.Context, state, nonce string) error
	NonceByCsrf(ctx context.Context, state string) (string, error)

	// MigrateLegacyTokens moves any tokens stored under the legacy
	// per-user key layout into the reserved __TOKENS__ record. It is
	// idempotent: calling it on an already-migrated store is a no-op.
	MigrateLegacyTokens(ctx context.Context) error

	Close() error
}

// ReservedTokensKey is the key the token migration writes its
// consolidated map under, reserved so it can never collide with a
// normalized crate name (crate names never contain '_').
const ReservedTokensKey = "__TOKENS__"

// ReservedUsersKey is the key the embedded/remote backends keep their
// user-id counter and login index under.
const ReservedUsersKey = "__USERS__"
