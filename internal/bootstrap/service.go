package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/ktra-go/registry/common"
	"github.com/ktra-go/registry/common/mlog"
	"github.com/ktra-go/registry/common/mzap"
	"github.com/ktra-go/registry/internal/adapters/http/in"
	"github.com/ktra-go/registry/internal/adapters/store/boltstore"
	"github.com/ktra-go/registry/internal/adapters/store/mongostore"
	"github.com/ktra-go/registry/internal/adapters/store/rediskv"
	"github.com/ktra-go/registry/internal/domain/indexmgr"
	"github.com/ktra-go/registry/internal/domain/store"
	"github.com/ktra-go/registry/internal/services/auth"
	"github.com/ktra-go/registry/internal/services/mirror"
	"github.com/ktra-go/registry/internal/services/registry"
)

// Version is the registry's build version, surfaced on GET /version.
var Version = "dev"

// Service is the application glue where we put all top level components to be used.
type Service struct {
	*Server
	mlog.Logger
}

// Run starts the application.
// This is the only necessary code to run an app in main.go
func (app *Service) Run() {
	common.NewLauncher(
		common.WithLogger(app.Logger),
		common.RunApp("HTTP Service", app.Server),
	).Run()
}

func openStore(ctx context.Context, cfg *Config, logger mlog.Logger) (store.Store, error) {
	switch cfg.DB.Driver {
	case "redis":
		return rediskv.Open(ctx, cfg.DB.RedisURL, cfg.DB.LoginPrefix, logger)
	case "mongo":
		return mongostore.Open(ctx, cfg.DB.MongoDBURL, cfg.DB.MongoDBName, cfg.DB.LoginPrefix)
	default:
		if err := os.MkdirAll(cfg.DB.DBDirPath, 0o755); err != nil {
			return nil, errors.Wrap(err, "failed to create database directory")
		}

		return boltstore.Open(filepath.Join(cfg.DB.DBDirPath, "registry.db"), cfg.DB.LoginPrefix)
	}
}

// InitServers builds every service, opens the configured store
// backend, pulls the index once, and wires the HTTP router.
func InitServers(ctx context.Context, cfg *Config) (*Service, mlog.Logger, error) {
	logger := mzap.InitializeLogger()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, logger, errors.Wrap(err, "failed to open store")
	}

	// registry.Service and auth.Service share this one handle; wrap it
	// so the exclusive lock spans each service's compound
	// check-and-write sequences rather than just one Store call.
	st = store.NewLocking(st)

	if err := os.MkdirAll(cfg.CrateFiles.DLDirPath, 0o755); err != nil {
		return nil, logger, errors.Wrap(err, "failed to create crate files directory")
	}

	idx, err := indexmgr.New(indexmgr.Config{
		RemoteURL:        cfg.Index.RemoteURL,
		LocalPath:        cfg.Index.LocalPath,
		Branch:           cfg.Index.Branch,
		HTTPSUsername:    cfg.Index.HTTPSUsername,
		HTTPSPassword:    cfg.Index.HTTPSPassword,
		SSHUsername:      cfg.Index.SSHUsername,
		SSHPubkeyPath:    cfg.Index.SSHPubkeyPath,
		SSHPrivkeyPath:   cfg.Index.SSHPrivkeyPath,
		SSHKeyPassphrase: cfg.Index.SSHKeyPassphrase,
		Name:             cfg.Index.Name,
		Email:            cfg.Index.Email,
	})
	if err != nil {
		return nil, logger, errors.Wrap(err, "failed to open index")
	}

	if err := idx.Pull(); err != nil {
		return nil, logger, errors.Wrap(err, "failed to pull index")
	}

	registrySvc := registry.New(st, idx, cfg.CrateFiles.DLDirPath)
	authSvc := auth.New(st)

	var oidcSvc *auth.OIDCService
	if cfg.OpenID != nil {
		oidcSvc = auth.NewOIDC(auth.OIDCConfig{
			IssuerURL:        cfg.OpenID.IssuerURL,
			RedirectBaseURL:  cfg.OpenID.RedirectURL,
			ClientID:         cfg.OpenID.ClientID,
			ClientSecret:     cfg.OpenID.ClientSecret,
			AdditionalScopes: cfg.OpenID.AdditionalScopes,
			AuthorizedGroups: cfg.OpenID.AuthorizedGroups,
			AuthorizedUsers:  cfg.OpenID.AuthorizedUsers,
		}, st)
	}

	var mirrorSvc *mirror.Service
	if cfg.CrateFiles.MirrorEnabled {
		if err := os.MkdirAll(cfg.CrateFiles.CacheDirPath, 0o755); err != nil {
			return nil, logger, errors.Wrap(err, "failed to create cache directory")
		}

		mirrorSvc = mirror.New(cfg.CrateFiles.CacheDirPath)
	}

	handler := &in.Handler{
		Registry: registrySvc,
		Auth:     authSvc,
		OIDC:     oidcSvc,
		Mirror:   mirrorSvc,
		DLPath:   "/" + strings.Join(cfg.CrateFiles.DLPath, "/"),
		Version:  Version,
	}

	app := in.NewRouter(handler)
	server := NewServer(cfg, app, logger)

	return &Service{Server: server, Logger: logger}, logger, nil
}
