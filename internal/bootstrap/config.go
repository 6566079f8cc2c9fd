package bootstrap

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/ktra-go/registry/common"
)

// ApplicationName identifies this service in logs and telemetry.
const ApplicationName = "registry"

// CrateFilesConfig controls where published tarballs and mirrored
// crates.io downloads are stored on disk, and the URL path segment
// clients download them under.
type CrateFilesConfig struct {
	DLDirPath     string   `toml:"dl_dir_path"`
	CacheDirPath  string   `toml:"cache_dir_path"`
	DLPath        []string `toml:"dl_path"`
	MirrorEnabled bool     `toml:"mirror_enabled"`
}

// DBConfig selects and configures the metadata store backend.
type DBConfig struct {
	// Driver is one of "bolt", "redis" or "mongo".
	Driver      string `toml:"driver"`
	LoginPrefix string `toml:"login_prefix"`
	DBDirPath   string `toml:"db_dir_path"`
	RedisURL    string `toml:"redis_url"`
	MongoDBURL  string `toml:"mongodb_url"`
	MongoDBName string `toml:"mongodb_name"`
}

// IndexConfig describes where the Cargo index git repository lives
// and how to authenticate against its remote. It is decoded straight
// into indexmgr.Config's field shape.
type IndexConfig struct {
	RemoteURL        string `toml:"remote_url"`
	LocalPath        string `toml:"local_path"`
	Branch           string `toml:"branch"`
	HTTPSUsername    string `toml:"https_username"`
	HTTPSPassword    string `toml:"https_password"`
	SSHUsername      string `toml:"ssh_username"`
	SSHPubkeyPath    string `toml:"ssh_pubkey_path"`
	SSHPrivkeyPath   string `toml:"ssh_privkey_path"`
	SSHKeyPassphrase string `toml:"ssh_key_passphrase"`
	Name             string `toml:"name"`
	Email            string `toml:"email"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address string `toml:"address"`
}

// OpenIDConfig configures the federated login flow. A nil OpenID
// field on Config disables it entirely, falling back to the
// password-based flow.
type OpenIDConfig struct {
	IssuerURL        string   `toml:"issuer_url"`
	RedirectURL      string   `toml:"redirect_url"`
	ClientID         string   `toml:"client_id"`
	ClientSecret     string   `toml:"client_secret"`
	AdditionalScopes []string `toml:"additional_scopes"`
	AuthorizedGroups []string `toml:"authorized_groups"`
	AuthorizedUsers  []string `toml:"authorized_users"`
}

// Config is the top level configuration struct for the entire
// application. EnvName and LogLevel follow the ambient env-var
// convention; everything domain-specific is read from a TOML file and
// may be overridden by CLI flags.
type Config struct {
	EnvName  string `env:"ENV_NAME"`
	LogLevel string `env:"LOG_LEVEL"`

	Server     ServerConfig     `toml:"server_config"`
	CrateFiles CrateFilesConfig `toml:"crate_files_config"`
	DB         DBConfig         `toml:"db_config"`
	Index      IndexConfig      `toml:"index_config"`
	OpenID     *OpenIDConfig    `toml:"openid_config"`
}

// DefaultConfig returns the configuration a bare `registry` binary
// runs with: an embedded bolt store under ./db, an index clone under
// ./index, and no federated login.
func DefaultConfig() *Config {
	cfg := &Config{
		EnvName:  "local",
		LogLevel: "info",
		Server: ServerConfig{
			Address: "0.0.0.0:8000",
		},
		CrateFiles: CrateFilesConfig{
			DLDirPath:    "crates",
			CacheDirPath: "crates_io_caches",
			DLPath:       []string{"dl"},
		},
		DB: DBConfig{
			Driver:      "bolt",
			LoginPrefix: "ktra-secure-auth:",
			DBDirPath:   "db",
			RedisURL:    "redis://localhost",
			MongoDBURL:  "mongodb://localhost:27017",
			MongoDBName: "ktra",
		},
		Index: IndexConfig{
			LocalPath: "index",
			Branch:    "main",
			Name:      "ktra-driver",
		},
	}

	return common.EnsureConfigFromEnvVars(cfg).(*Config)
}

// LoadConfig starts from DefaultConfig and, if path exists, decodes
// it over top. A missing file is not an error: the registry runs on
// defaults alone.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}

		return nil, errors.Wrap(err, "failed to read config file")
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	return cfg, nil
}

func (cfg *Config) openID() *OpenIDConfig {
	if cfg.OpenID == nil {
		cfg.OpenID = &OpenIDConfig{}
	}

	return cfg.OpenID
}

// ApplyFlags overrides cfg with every CLI flag the caller actually
// set, taking precedence over both defaults and the TOML file.
func (cfg *Config) ApplyFlags(c *cli.Context) {
	if v := c.String("dl-dir-path"); v != "" {
		cfg.CrateFiles.DLDirPath = v
	}

	if v := c.String("cache-dir-path"); v != "" {
		cfg.CrateFiles.CacheDirPath = v
	}

	if vs := c.StringSlice("dl-path"); len(vs) > 0 {
		cfg.CrateFiles.DLPath = vs
	}

	if v := c.String("login-prefix"); v != "" {
		cfg.DB.LoginPrefix = v
	}

	if v := c.String("db-driver"); v != "" {
		cfg.DB.Driver = v
	}

	if v := c.String("db-dir-path"); v != "" {
		cfg.DB.DBDirPath = v
	}

	if v := c.String("redis-url"); v != "" {
		cfg.DB.RedisURL = v
	}

	if v := c.String("mongodb-url"); v != "" {
		cfg.DB.MongoDBURL = v
	}

	if v := c.String("remote-url"); v != "" {
		cfg.Index.RemoteURL = v
	}

	if v := c.String("local-path"); v != "" {
		cfg.Index.LocalPath = v
	}

	if v := c.String("branch"); v != "" {
		cfg.Index.Branch = v
	}

	if v := c.String("https-username"); v != "" {
		cfg.Index.HTTPSUsername = v
	}

	if v := c.String("https-password"); v != "" {
		cfg.Index.HTTPSPassword = v
	}

	if v := c.String("ssh-username"); v != "" {
		cfg.Index.SSHUsername = v
	}

	if v := c.String("ssh-pubkey-path"); v != "" {
		cfg.Index.SSHPubkeyPath = v
	}

	if v := c.String("ssh-privkey-path"); v != "" {
		cfg.Index.SSHPrivkeyPath = v
	}

	if v := c.String("ssh-key-passphrase"); v != "" {
		cfg.Index.SSHKeyPassphrase = v
	}

	if v := c.String("git-name"); v != "" {
		cfg.Index.Name = v
	}

	if v := c.String("git-email"); v != "" {
		cfg.Index.Email = v
	}

	if v := c.String("address"); v != "" {
		cfg.Server.Address = v
	}

	if v := c.String("openid-issuer"); v != "" {
		cfg.openID().IssuerURL = v
	}

	if v := c.String("openid-redirect"); v != "" {
		cfg.openID().RedirectURL = v
	}

	if v := c.String("openid-client-id"); v != "" {
		cfg.openID().ClientID = v
	}

	if v := c.String("openid-client-secret"); v != "" {
		cfg.openID().ClientSecret = v
	}

	if v := c.String("openid-additional-scopes"); v != "" {
		cfg.openID().AdditionalScopes = strings.Split(v, ",")
	}

	if v := c.String("openid-authorized-groups"); v != "" {
		cfg.openID().AuthorizedGroups = strings.Split(v, ",")
	}

	if v := c.String("openid-authorized-users"); v != "" {
		cfg.openID().AuthorizedUsers = strings.Split(v, ",")
	}
}
