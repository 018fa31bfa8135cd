package gitinfo_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lance13c/vrt/internal/gitinfo"
)

// initRepo creates a repository with .gitignore and one commit
func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(".vrt/actuals/\n*.log\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("targets: []\n"), 0644))

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(".")
	require.NoError(t, err)
	_, err = wt.Commit("init", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@test.com", When: time.Now()},
	})
	require.NoError(t, err)
	return dir
}

func TestIsGitRepo(t *testing.T) {
	assert.True(t, gitinfo.IsGitRepo(initRepo(t)))
	assert.False(t, gitinfo.IsGitRepo(t.TempDir()))
}

func TestInfo(t *testing.T) {
	dir := initRepo(t)

	repo, err := gitinfo.Open(filepath.Join(dir))
	require.NoError(t, err)
	info, err := repo.Info()
	require.NoError(t, err)
	assert.Len(t, info.Commit, 40, "should be a full SHA-1 hash")
	assert.Len(t, info.Short(), 7)
	assert.Equal(t, "master", info.Branch)
	assert.False(t, info.Dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("targets: [x]\n"), 0644))
	info, err = repo.Info()
	require.NoError(t, err)
	assert.True(t, info.Dirty)
}

func TestCommitHashNotGitRepo(t *testing.T) {
	_, err := gitinfo.CommitHash(t.TempDir())
	assert.Error(t, err)
	assert.Equal(t, gitinfo.Info{}, gitinfo.Describe(t.TempDir()))
}

func TestIsIgnored(t *testing.T) {
	dir := initRepo(t)
	repo, err := gitinfo.Open(dir)
	require.NoError(t, err)

	assert.True(t, repo.IsIgnored(filepath.Join(dir, ".vrt", "actuals"), true))
	assert.True(t, repo.IsIgnored(filepath.Join(dir, "logs", "run.log"), false))
	assert.False(t, repo.IsIgnored(filepath.Join(dir, "config.yaml"), false))
	assert.False(t, repo.IsIgnored(filepath.Join(t.TempDir(), "elsewhere.log"), false))
}
