package indexmgr

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/ktra-go/registry/internal/domain/entity"
)

func testSignature() *object.Signature {
	return &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()}
}

// newBareRemote creates a bare repository to act as "origin" and seeds
// it with an initial commit on branch, since a freshly cloned empty
// repository has no HEAD for a later index file commit to build on.
func newBareRemote(t *testing.T, branch string) string {
	t.Helper()

	bareDir := filepath.Join(t.TempDir(), "remote.git")
	_, err := git.PlainInit(bareDir, true)
	require.NoError(t, err)

	seedDir := filepath.Join(t.TempDir(), "seed")
	seed, err := git.PlainInit(seedDir, false)
	require.NoError(t, err)

	_, err = seed.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{bareDir}})
	require.NoError(t, err)

	wt, err := seed.Worktree()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(seedDir, "README.md"), []byte("index\n"), 0o644))
	_, err = wt.Add("README.md")
	require.NoError(t, err)

	sig := testSignature()
	_, err = wt.Commit("initial", &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	err = seed.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{config.RefSpec("refs/heads/master:refs/heads/" + branch)},
	})
	require.NoError(t, err)

	return bareDir
}

func TestAddPackageAndYank(t *testing.T) {
	branch := "main"
	remote := newBareRemote(t, branch)

	cfg := Config{
		RemoteURL: remote,
		LocalPath: filepath.Join(t.TempDir(), "index"),
		Branch:    branch,
		Name:      "tester",
		Email:     "tester@example.com",
	}

	mgr, err := New(cfg)
	require.NoError(t, err)

	pkg := entity.Package{Name: "widget", Vers: "1.0.0", Cksum: "abc"}
	require.NoError(t, mgr.AddPackage(pkg))

	require.NoError(t, mgr.Yank("widget", "1.0.0"))

	pkgs, err := readPackages(filepath.Join(cfg.LocalPath, entity.PackageDirectory("widget"), "widget"))
	require.NoError(t, err)
	require.Len(t, pkgs, 1)
	require.True(t, pkgs[0].Yanked)
}
