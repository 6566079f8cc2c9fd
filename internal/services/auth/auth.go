// Package auth implements the password-based registration/login flow
// and token issuance. The federated OpenID-Connect flow lives beside
// it in oidc.go.
package auth

import (
	"context"
	"crypto/rand"

	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
	"github.com/ktra-go/registry/internal/domain/store"
)

const (
	tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	tokenLength   = 32
)

// Service implements the password-based registration/login/
// change-password flow against a Store. Password hashing and
// verification is owned by the Store implementation, since only it
// can look up the per-user salt embedded in the stored record.
type Service struct {
	Store store.Store
}

// New builds a Service.
func New(st store.Store) *Service {
	return &Service{Store: st}
}

func randomString(alphabet string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", regerr.WrapIO(err)
	}

	out := make([]byte, n)
	for i, b := range buf {
		out[i] = alphabet[int(b)%len(alphabet)]
	}

	return string(out), nil
}

func issueToken() (string, error) {
	return randomString(tokenAlphabet, tokenLength)
}

// Register creates a new user with login `<prefix><name>`, assigning
// the next dense user id, and issues a fresh token.
func (s *Service) Register(ctx context.Context, name, password string) (string, error) {
	// LastUserID and AddNewUser must be read and written as one
	// compound step: two concurrent registrations that both read the
	// same LastUserID before either writes would otherwise claim the
	// same next id.
	unlock := store.Lock(s.Store)
	defer unlock()

	last, err := s.Store.LastUserID(ctx)
	if err != nil {
		return "", err
	}

	var nextID uint32
	if last != nil {
		nextID = *last + 1
	}

	login := s.Store.LoginPrefix() + name

	user := entity.NewUser(nextID, login, nil)
	if err := s.Store.AddNewUser(ctx, user, password); err != nil {
		return "", err
	}

	token, err := issueToken()
	if err != nil {
		return "", err
	}

	if err := s.Store.SetToken(ctx, user.ID, token); err != nil {
		return "", err
	}

	return token, nil
}

// Login verifies name/password and issues a fresh token on success.
func (s *Service) Login(ctx context.Context, name, password string) (string, error) {
	user, err := s.Store.UserByUsername(ctx, name)
	if err != nil {
		return "", err
	}

	ok, err := s.Store.VerifyPassword(ctx, user.ID, password)
	if err != nil {
		return "", err
	}

	if !ok {
		return "", regerr.ErrInvalidPassword()
	}

	token, err := issueToken()
	if err != nil {
		return "", err
	}

	if err := s.Store.SetToken(ctx, user.ID, token); err != nil {
		return "", err
	}

	return token, nil
}

// ChangePassword verifies old against the stored hash, fails
// SamePasswords if old == new, otherwise stores the new hash and
// issues a fresh token.
func (s *Service) ChangePassword(ctx context.Context, name, oldPassword, newPassword string) (string, error) {
	if oldPassword == newPassword {
		return "", regerr.ErrSamePasswords()
	}

	user, err := s.Store.UserByUsername(ctx, name)
	if err != nil {
		return "", err
	}

	if err := s.Store.ChangePassword(ctx, user.ID, oldPassword, newPassword); err != nil {
		return "", err
	}

	token, err := issueToken()
	if err != nil {
		return "", err
	}

	if err := s.Store.SetToken(ctx, user.ID, token); err != nil {
		return "", err
	}

	return token, nil
}
