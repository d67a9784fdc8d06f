// Package gitinfo gathers the local repository facts the renderer displays
// next to the remote status. It reads the repository in-process with go-git;
// forking a git subprocess on every render tick would not fit the latency
// budget.
package gitinfo

import (
	git "github.com/go-git/go-git/v5"
)

const shortHashLen = 7

// Facts describes the repository state at the project root.
type Facts struct {
	Branch    string `json:"branch,omitempty"`
	ShortHash string `json:"short_hash,omitempty"`
	Detached  bool   `json:"detached,omitempty"`
	Dirty     bool   `json:"dirty,omitempty"`
}

// Collect returns repository facts for the given directory. The second
// return value is false when the directory is not inside a git repository or
// the repository has no commits yet; that is a normal condition, not an
// error.
func Collect(dirpath string) (Facts, bool) {
	repo, err := git.PlainOpenWithOptions(dirpath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return Facts{}, false
	}

	head, err := repo.Head()
	if err != nil {
		// Unborn HEAD (fresh init) or corrupt ref; nothing to report.
		return Facts{}, false
	}

	facts := Facts{}
	hash := head.Hash().String()
	if len(hash) > shortHashLen {
		facts.ShortHash = hash[:shortHashLen]
	}
	if head.Name().IsBranch() {
		facts.Branch = head.Name().Short()
	} else {
		facts.Detached = true
	}

	if wt, err := repo.Worktree(); err == nil {
		if status, err := wt.Status(); err == nil {
			facts.Dirty = !status.IsClean()
		}
	}
	return facts, true
}
