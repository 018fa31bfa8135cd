package gitinfo

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
)

// Info describes the checkout a run was made from
type Info struct {
	Commit string `json:"commit"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// Short returns the abbreviated commit hash
func (i Info) Short() string {
	if len(i.Commit) > 7 {
		return i.Commit[:7]
	}
	return i.Commit
}

// Repo is an opened repository
type Repo struct {
	root    string
	repo    *git.Repository
	matcher gitignore.Matcher
}

// Open finds the repository containing path
func Open(path string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening git repo: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}

	patterns, err := gitignore.ReadPatterns(wt.Filesystem, nil)
	if err != nil {
		return nil, fmt.Errorf("reading gitignore: %w", err)
	}

	return &Repo{
		root:    wt.Filesystem.Root(),
		repo:    repo,
		matcher: gitignore.NewMatcher(patterns),
	}, nil
}

// IsGitRepo reports whether path is inside a repository
func IsGitRepo(path string) bool {
	_, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	return err == nil
}

// Root returns the worktree root
func (r *Repo) Root() string {
	return r.root
}

// Info returns the HEAD commit, branch and worktree state
func (r *Repo) Info() (Info, error) {
	head, err := r.repo.Head()
	if err != nil {
		return Info{}, fmt.Errorf("getting HEAD: %w", err)
	}

	info := Info{Commit: head.Hash().String()}
	if head.Name().IsBranch() {
		info.Branch = head.Name().Short()
	}

	wt, err := r.repo.Worktree()
	if err != nil {
		return info, fmt.Errorf("opening worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return info, fmt.Errorf("getting status: %w", err)
	}
	info.Dirty = !status.IsClean()
	return info, nil
}

// IsIgnored reports whether path matches the repository's .gitignore files
func (r *Repo) IsIgnored(path string, isDir bool) bool {
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(r.root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return r.matcher.Match(strings.Split(filepath.ToSlash(rel), "/"), isDir)
}

// CommitHash returns the HEAD commit of the repository containing path
func CommitHash(path string) (string, error) {
	repo, err := Open(path)
	if err != nil {
		return "", err
	}
	info, err := repo.Info()
	if err != nil && info.Commit == "" {
		return "", err
	}
	return info.Commit, nil
}

// Describe returns Info for path, or the zero Info outside a repository or
// before the first commit
func Describe(path string) Info {
	repo, err := Open(path)
	if err != nil {
		return Info{}
	}
	info, _ := repo.Info()
	return info
}
