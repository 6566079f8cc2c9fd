package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/ktra-go/registry/common"
	"github.com/ktra-go/registry/internal/bootstrap"
)

func main() {
	common.InitLocalEnvConfig()

	app := &cli.App{
		Name:  "registry",
		Usage: "Your little Cargo registry.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "registry.toml", Usage: "Sets a config file"},
			&cli.StringFlag{Name: "dl-dir-path", Usage: "Sets the crate files directory"},
			&cli.StringFlag{Name: "cache-dir-path", Usage: "Sets the crates.io cache files directory (needs mirror_enabled)"},
			&cli.StringSliceFlag{Name: "dl-path", Usage: "Sets a crate files download path"},
			&cli.StringFlag{Name: "login-prefix", Usage: "Sets the prefix to registered users on the registry"},
			&cli.StringFlag{Name: "db-driver", Usage: "Sets the storage backend: bolt, redis or mongo"},
			&cli.StringFlag{Name: "db-dir-path", Usage: "Sets a database directory (bolt driver)"},
			&cli.StringFlag{Name: "redis-url", Usage: "Sets a Redis URL (redis driver)"},
			&cli.StringFlag{Name: "mongodb-url", Usage: "Sets a MongoDB URL (mongo driver)"},
			&cli.StringFlag{Name: "remote-url", Usage: "Sets a URL for the remote index git repository"},
			&cli.StringFlag{Name: "local-path", Usage: "Sets a path for local index git repository"},
			&cli.StringFlag{Name: "branch", Usage: "Sets a branch name of the index git repository"},
			&cli.StringFlag{Name: "https-username", Usage: "Sets a username for HTTPS authentication against the index remote"},
			&cli.StringFlag{Name: "https-password", Usage: "Sets a password for HTTPS authentication against the index remote"},
			&cli.StringFlag{Name: "ssh-username", Usage: "Sets a username for SSH authentication against the index remote"},
			&cli.StringFlag{Name: "ssh-pubkey-path", Usage: "Sets a public key path for SSH authentication against the index remote"},
			&cli.StringFlag{Name: "ssh-privkey-path", Usage: "Sets a private key path for SSH authentication against the index remote"},
			&cli.StringFlag{Name: "ssh-key-passphrase", Usage: "Sets the private key's passphrase for SSH authentication against the index remote"},
			&cli.StringFlag{Name: "git-name", Usage: "Sets an author and committer name for index commits"},
			&cli.StringFlag{Name: "git-email", Usage: "Sets an author and committer email for index commits"},
			&cli.StringFlag{Name: "address", Usage: "Sets the host:port the HTTP server runs on"},
			&cli.StringFlag{Name: "openid-issuer", Usage: "Sets the URL of the OpenID Connect issuer"},
			&cli.StringFlag{Name: "openid-redirect", Usage: "Sets the redirect base URL of the OpenID process"},
			&cli.StringFlag{Name: "openid-client-id", Usage: "Sets the client ID for OpenID"},
			&cli.StringFlag{Name: "openid-client-secret", Usage: "Sets the client secret for OpenID"},
			&cli.StringFlag{Name: "openid-additional-scopes", Usage: "Sets additional comma-separated OpenID scopes"},
			&cli.StringFlag{Name: "openid-authorized-groups", Usage: "Sets the comma-separated authorized groups; empty means no group check"},
			&cli.StringFlag{Name: "openid-authorized-users", Usage: "Sets the comma-separated authorized users; empty means no user check"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := bootstrap.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	cfg.ApplyFlags(c)

	svc, logger, err := bootstrap.InitServers(context.Background(), cfg)
	if err != nil {
		return err
	}

	defer func() {
		if err := logger.Sync(); err != nil {
			logger.Infof("Launcher: App (%s) error:", bootstrap.ApplicationName)
			logger.Infof("Failed to sync logger: %s", err)
		}
	}()

	logger.Infof("Launcher: App (%s) starting on %s\n", bootstrap.ApplicationName, cfg.Server.Address)

	svc.Run()

	return nil
}
