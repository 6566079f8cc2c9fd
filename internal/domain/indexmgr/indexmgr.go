// Package indexmgr manages the on-disk clone of the Cargo index git
// repository: cloning or opening it, pulling upstream changes, and
// committing/pushing package updates back to origin.
package indexmgr

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"encoding/json"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"github.com/ktra-go/registry/internal/domain/entity"
	"github.com/ktra-go/registry/internal/domain/regerr"
)

// Config describes where the index lives and how to authenticate
// against its remote.
type Config struct {
	RemoteURL         string
	LocalPath         string
	Branch            string
	HTTPSUsername     string
	HTTPSPassword     string
	SSHUsername       string
	SSHPubkeyPath     string
	SSHPrivkeyPath    string
	SSHKeyPassphrase  string
	Name              string
	Email             string
}

// Manager owns the local index clone. Every mutating operation is
// serialized through mu: one git repository, one writer at a time.
type Manager struct {
	config Config
	repo   *git.Repository
	mu     sync.Mutex
}

// New clones config.RemoteURL into config.LocalPath if it doesn't
// already exist there, or opens the existing clone.
func New(cfg Config) (*Manager, error) {
	repo, err := cloneOrOpen(cfg)
	if err != nil {
		return nil, regerr.WrapGit(err)
	}

	return &Manager{config: cfg, repo: repo}, nil
}

func cloneOrOpen(cfg Config) (*git.Repository, error) {
	if _, err := os.Stat(cfg.LocalPath); err == nil {
		return git.PlainOpen(cfg.LocalPath)
	}

	auth, err := cfg.auth()
	if err != nil {
		return nil, err
	}

	return git.PlainClone(cfg.LocalPath, false, &git.CloneOptions{
		URL:           cfg.RemoteURL,
		Auth:          auth,
		ReferenceName: branchReference(cfg.Branch),
	})
}

func branchReference(branch string) plumbing.ReferenceName {
	return plumbing.NewBranchReferenceName(branch)
}

func (c Config) auth() (transport.AuthMethod, error) {
	if c.SSHPrivkeyPath != "" {
		auth, err := ssh.NewPublicKeysFromFile(c.SSHUsername, c.SSHPrivkeyPath, c.SSHKeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("load ssh key: %w", err)
		}

		return auth, nil
	}

	if c.HTTPSPassword != "" {
		return &http.BasicAuth{Username: c.HTTPSUsername, Password: c.HTTPSPassword}, nil
	}

	return nil, nil
}

// Pull fast-forwards the local clone's working branch from origin.
func (m *Manager) Pull() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wt, err := m.repo.Worktree()
	if err != nil {
		return regerr.WrapGit(err)
	}

	auth, err := m.config.auth()
	if err != nil {
		return regerr.WrapGit(err)
	}

	err = wt.Pull(&git.PullOptions{
		RemoteName:    "origin",
		ReferenceName: branchReference(m.config.Branch),
		Auth:          auth,
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return regerr.WrapGit(err)
	}

	return nil
}

// AddPackage appends pkg's index line to the crate's index file,
// creating it and its directory if necessary, then commits and pushes
// the change.
func (m *Manager) AddPackage(pkg entity.Package) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := strings.ToLower(pkg.Name)

	dir := filepath.Join(m.config.LocalPath, entity.PackageDirectory(name))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return regerr.WrapIO(err)
	}

	path := filepath.Join(dir, name)

	line, err := jsonLine(pkg)
	if err != nil {
		return err
	}

	if err := appendLine(path, line); err != nil {
		return err
	}

	message := fmt.Sprintf("Updating crate `%s#%s`", pkg.Name, pkg.Vers)

	return m.commitAndPushLocked(message)
}

func (m *Manager) changeYanked(name string, vers string, yanked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	lower := strings.ToLower(name)
	path := filepath.Join(m.config.LocalPath, entity.PackageDirectory(lower), lower)

	pkgs, err := readPackages(path)
	if err != nil {
		return err
	}

	for i := range pkgs {
		if pkgs[i].Vers == vers {
			pkgs[i].Yanked = yanked
		}
	}

	if err := writePackages(path, pkgs); err != nil {
		return err
	}

	verb := "Unyanking"
	if yanked {
		verb = "Yanking"
	}

	message := fmt.Sprintf("%s crate `%s#%s`", verb, name, vers)

	return m.commitAndPushLocked(message)
}

// Yank marks a version as yanked in the index and pushes the change.
func (m *Manager) Yank(name, vers string) error { return m.changeYanked(name, vers, true) }

// Unyank clears a version's yanked flag in the index and pushes the
// change.
func (m *Manager) Unyank(name, vers string) error { return m.changeYanked(name, vers, false) }

// commitAndPushLocked stages, commits, and pushes the working tree.
// Callers must hold m.mu for the duration of their whole operation,
// not just this step: AddPackage and changeYanked take it before
// touching the index files on disk, so a concurrent Pull can't
// force-checkout mid-write and two concurrent writers to the same
// file can't interleave their appends.
func (m *Manager) commitAndPushLocked(message string) error {
	wt, err := m.repo.Worktree()
	if err != nil {
		return regerr.WrapGit(err)
	}

	if _, err := wt.Add("."); err != nil {
		return regerr.WrapGit(err)
	}

	sig := &object.Signature{
		Name:  nameOr(m.config.Name, "ktra-driver"),
		Email: nameOr(m.config.Email, "undefined@example.com"),
		When:  time.Now(),
	}

	if _, err := wt.Commit(message, &git.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return regerr.WrapGit(err)
	}

	auth, err := m.config.auth()
	if err != nil {
		return regerr.WrapGit(err)
	}

	err = m.repo.Push(&git.PushOptions{
		RemoteName: "origin",
		Auth:       auth,
		RefSpecs: []config.RefSpec{
			config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", m.config.Branch, m.config.Branch)),
		},
	})
	if err != nil && err != git.NoErrAlreadyUpToDate {
		return regerr.WrapGit(err)
	}

	return nil
}

func jsonLine(pkg entity.Package) (string, error) {
	raw, err := json.Marshal(pkg)
	if err != nil {
		return "", regerr.WrapSerialization(err)
	}

	return string(raw), nil
}

func appendLine(path, line string) error {
	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return regerr.WrapIO(err)
	}

	var lines []string

	if len(existing) > 0 {
		lines = strings.Split(strings.TrimRight(string(existing), "\n"), "\n")
	}

	lines = append(lines, line)
	content := strings.Join(lines, "\n") + "\n"

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return regerr.WrapIO(err)
	}

	return nil
}

func readPackages(path string) ([]entity.Package, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, regerr.WrapIO(err)
	}

	lines := strings.Split(strings.TrimRight(string(raw), "\n"), "\n")

	pkgs := make([]entity.Package, 0, len(lines))

	var errs []error

	for _, l := range lines {
		if l == "" {
			continue
		}

		var p entity.Package
		if err := json.Unmarshal([]byte(l), &p); err != nil {
			errs = append(errs, regerr.ErrInvalidJSON(err))
			continue
		}

		pkgs = append(pkgs, p)
	}

	if len(errs) > 0 {
		return nil, regerr.ErrMultiple(errs)
	}

	return pkgs, nil
}

func writePackages(path string, pkgs []entity.Package) error {
	lines := make([]string, 0, len(pkgs))

	for _, p := range pkgs {
		line, err := jsonLine(p)
		if err != nil {
			return err
		}

		lines = append(lines, line)
	}

	content := strings.Join(lines, "\n") + "\n"

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return regerr.WrapIO(err)
	}

	return nil
}

func nameOr(v, def string) string {
	if v == "" {
		return def
	}

	return v
}
