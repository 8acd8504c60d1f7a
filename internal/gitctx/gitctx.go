// Package gitctx reads git provenance for the vault a bundle was synced from.
package gitctx

import (
	"path/filepath"

	git "github.com/go-git/go-git/v5"
)

// Provenance is a minimal view of the repository containing a path.
type Provenance struct {
	Root   string `json:"root"`
	Head   string `json:"head"`
	Branch string `json:"branch,omitempty"`
	Dirty  bool   `json:"dirty"`
}

// Collect returns provenance for the repository containing target, or nil
// when target is not inside a git work tree or the repository has no HEAD.
func Collect(target string) *Provenance {
	repo, err := git.PlainOpenWithOptions(target, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil
	}
	head, err := repo.Head()
	if err != nil {
		return nil
	}
	p := &Provenance{Head: head.Hash().String()}
	if head.Name().IsBranch() {
		p.Branch = head.Name().Short()
	}

	wt, err := repo.Worktree()
	if err != nil {
		return p
	}
	p.Root = filepath.Clean(wt.Filesystem.Root())
	if st, err := wt.Status(); err == nil {
		p.Dirty = !st.IsClean()
	}
	return p
}
