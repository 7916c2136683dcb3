package project

import (
	"github.com/go-git/go-git/v5"
)

// GitHead returns the commit checked out in the repository holding the
// project, or "" when there is none or HEAD cannot be resolved.
func (p *Project) GitHead() string {
	repo, err := git.PlainOpenWithOptions(p.Path, &git.PlainOpenOptions{
		DetectDotGit:          true,
		EnableDotGitCommonDir: true,
	})
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// IsGitRepository reports whether the project root is the top of a git
// checkout. Submodules and worktrees, whose .git is a file, count.
func (p *Project) IsGitRepository() bool {
	_, err := openRepository(p.Path)
	return err == nil
}

// OriginURL returns the first URL of the "origin" remote of the repository
// rooted at dir, or "" when dir is not a checkout or has no origin.
func OriginURL(dir string) string {
	repo, err := openRepository(dir)
	if err != nil {
		return ""
	}
	remote, err := repo.Remote(git.DefaultRemoteName)
	if err != nil {
		return ""
	}
	if urls := remote.Config().URLs; len(urls) > 0 {
		return urls[0]
	}
	return ""
}

// openRepository opens the repository rooted exactly at dir. Parent
// directories are not searched, so a dependency inside the project's own
// checkout is not mistaken for a repository.
func openRepository(dir string) (*git.Repository, error) {
	return git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{EnableDotGitCommonDir: true})
}
