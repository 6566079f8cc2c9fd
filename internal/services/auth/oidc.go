package auth

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
	"github.com/ktra-go/registry/internal/domain/store"
)

// OIDCConfig configures the federated authorization-code flow against
// a single external identity provider.
type OIDCConfig struct {
	IssuerURL        string
	RedirectBaseURL  string
	ClientID         string
	ClientSecret     string
	AdditionalScopes []string
	AuthorizedGroups []string
	AuthorizedUsers  []string
}

func (c OIDCConfig) restrictsByGroupOrUser() bool {
	return len(c.AuthorizedGroups) > 0 || len(c.AuthorizedUsers) > 0
}

// OIDCService implements the `/me` and `/replace_token` redirect flow
// and its callback counterpart.
type OIDCService struct {
	cfg   OIDCConfig
	Store store.Store
}

// NewOIDC builds an OIDCService.
func NewOIDC(cfg OIDCConfig, st store.Store) *OIDCService {
	return &OIDCService{cfg: cfg, Store: st}
}

func (s *OIDCService) provider(ctx context.Context) (*oidc.Provider, error) {
	p, err := oidc.NewProvider(ctx, s.cfg.IssuerURL)
	if err != nil {
		return nil, regerr.ErrOpenID(fmt.Sprintf("failed to discover OpenID provider: %v", err))
	}

	return p, nil
}

func (s *OIDCService) oauth2Config(provider *oidc.Provider, redirectPath string) oauth2.Config {
	scopes := append([]string{oidc.ScopeOpenID, "profile", "email"}, s.cfg.AdditionalScopes...)

	return oauth2.Config{
		ClientID:     s.cfg.ClientID,
		ClientSecret: s.cfg.ClientSecret,
		RedirectURL:  s.cfg.RedirectBaseURL + "/" + redirectPath,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}
}

// AuthorizeURL starts the authorization-code flow for redirectPath
// (one of "ktra/api/v1/openid/me" or "ktra/api/v1/openid/replace"),
// storing a fresh nonce under a fresh CSRF state and returning the
// URL the caller should redirect the user-agent to.
func (s *OIDCService) AuthorizeURL(ctx context.Context, redirectPath string) (string, error) {
	provider, err := s.provider(ctx)
	if err != nil {
		return "", err
	}

	conf := s.oauth2Config(provider, redirectPath)

	state, err := randomString(tokenAlphabet, tokenLength)
	if err != nil {
		return "", err
	}

	nonce, err := randomString(tokenAlphabet, tokenLength)
	if err != nil {
		return "", err
	}

	if err := s.Store.StoreNonceByCsrf(ctx, state, nonce); err != nil {
		return "", err
	}

	return conf.AuthCodeURL(state, oidc.Nonce(nonce)), nil
}

// CallbackResult is the JSON-able outcome of a completed callback.
type CallbackResult struct {
	Username      string `json:"username"`
	NewToken      string `json:"new_token,omitempty"`
	RevokedToken  string `json:"revoked_token,omitempty"`
	ExistingToken string `json:"existing_token,omitempty"`
}

type claims struct {
	Nickname string   `json:"nickname"`
	Groups   []string `json:"groups"`
}

// HandleCallback exchanges code for tokens, verifies the ID token
// against the nonce stored under state, checks the subject against
// the configured authorization restrictions, looks up or creates the
// local user `<issuer-host>:<nickname>`, and issues or returns a
// token depending on revokeOldToken.
func (s *OIDCService) HandleCallback(ctx context.Context, redirectPath, code, state string, revokeOldToken bool) (CallbackResult, error) {
	provider, err := s.provider(ctx)
	if err != nil {
		return CallbackResult{}, err
	}

	conf := s.oauth2Config(provider, redirectPath)

	nonce, err := s.Store.NonceByCsrf(ctx, state)
	if err != nil {
		return CallbackResult{}, err
	}

	tok, err := conf.Exchange(ctx, code)
	if err != nil {
		return CallbackResult{}, regerr.ErrOpenID("failed to contact token endpoint")
	}

	rawIDToken, ok := tok.Extra("id_token").(string)
	if !ok {
		return CallbackResult{}, regerr.ErrOpenID("server did not return an ID token")
	}

	verifier := provider.Verifier(&oidc.Config{ClientID: s.cfg.ClientID})

	idToken, err := verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return CallbackResult{}, regerr.ErrOpenID("failed to verify ID token")
	}

	if idToken.Nonce != nonce {
		return CallbackResult{}, regerr.ErrOpenID("failed to verify ID token")
	}

	userInfo, err := provider.UserInfo(ctx, conf.TokenSource(ctx, tok))
	if err != nil {
		return CallbackResult{}, regerr.ErrOpenID("failed requesting user info")
	}

	var c claims
	if err := userInfo.Claims(&c); err != nil {
		return CallbackResult{}, regerr.ErrOpenID("failed requesting user info")
	}

	if !s.authorized(c) {
		return CallbackResult{}, regerr.ErrOpenID("unauthorized user for publishing/owning rights")
	}

	issuerURL, err := url.Parse(idToken.Issuer)
	if err != nil || issuerURL.Host == "" {
		return CallbackResult{}, regerr.ErrOpenID("invalid scheme for issuer URL")
	}

	if c.Nickname == "" {
		return CallbackResult{}, regerr.ErrOpenID("no nickname available for registration")
	}

	user, err := s.getOrCreateUser(ctx, issuerURL.Host, c.Nickname)
	if err != nil {
		return CallbackResult{}, err
	}

	existingToken, err := s.Store.TokenByLogin(ctx, user.Login)
	if err != nil {
		return CallbackResult{}, err
	}

	if revokeOldToken || existingToken == nil {
		newToken, err := issueToken()
		if err != nil {
			return CallbackResult{}, err
		}

		if err := s.Store.SetToken(ctx, user.ID, newToken); err != nil {
			return CallbackResult{}, err
		}

		var revoked string
		if existingToken != nil {
			revoked = *existingToken
		}

		return CallbackResult{Username: user.Login, NewToken: newToken, RevokedToken: revoked}, nil
	}

	return CallbackResult{Username: user.Login, ExistingToken: *existingToken}, nil
}

func (s *OIDCService) authorized(c claims) bool {
	if !s.cfg.restrictsByGroupOrUser() {
		return true
	}

	for _, group := range c.Groups {
		for _, authorized := range s.cfg.AuthorizedGroups {
			if group == authorized {
				return true
			}
		}
	}

	for _, authorized := range s.cfg.AuthorizedUsers {
		if c.Nickname == authorized {
			return true
		}
	}

	return false
}

func (s *OIDCService) getOrCreateUser(ctx context.Context, issuerHost, nickname string) (entity.User, error) {
	login := issuerHost + ":" + nickname

	if user, err := s.Store.UserByLogin(ctx, login); err == nil {
		return user, nil
	}

	unlock := store.Lock(s.Store)
	defer unlock()

	last, err := s.Store.LastUserID(ctx)
	if err != nil {
		return entity.User{}, err
	}

	var nextID uint32
	if last != nil {
		nextID = *last + 1
	}

	name := nickname
	user := entity.NewUser(nextID, login, &name)

	// Passphrases are meaningless for federated accounts; AddNewUser
	// still hashes this placeholder so the password record stays
	// shaped like every other user's.
	if err := s.Store.AddNewUser(ctx, user, "passphrases are unsupported with openid feature"); err != nil {
		return entity.User{}, err
	}

	return user, nil
}
