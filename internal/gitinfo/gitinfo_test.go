package gitinfo

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func commitFile(t *testing.T, repoDir string) *git.Repository {
	t.Helper()
	repo, err := git.PlainInit(repoDir, false)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("hello\n"), 0644); err != nil {
		t.Fatal(err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wt.Add("README.md"); err != nil {
		t.Fatal(err)
	}
	_, err = wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatal(err)
	}
	return repo
}

func TestCollectOnBranch(t *testing.T) {
	repoDir := t.TempDir()
	commitFile(t, repoDir)

	facts, ok := Collect(repoDir)
	if !ok {
		t.Fatal("expected facts from a repo with a commit")
	}
	if facts.Branch == "" {
		t.Error("branch is empty")
	}
	if len(facts.ShortHash) != 7 {
		t.Errorf("short hash = %q, want 7 chars", facts.ShortHash)
	}
	if facts.Detached {
		t.Error("branch checkout reported as detached")
	}
	if facts.Dirty {
		t.Error("freshly committed repo reported as dirty")
	}
}

func TestCollectDirtyWorktree(t *testing.T) {
	repoDir := t.TempDir()
	commitFile(t, repoDir)
	if err := os.WriteFile(filepath.Join(repoDir, "README.md"), []byte("changed\n"), 0644); err != nil {
		t.Fatal(err)
	}

	facts, ok := Collect(repoDir)
	if !ok {
		t.Fatal("expected facts")
	}
	if !facts.Dirty {
		t.Error("uncommitted modification not reported as dirty")
	}
}

func TestCollectFromNestedDir(t *testing.T) {
	repoDir := t.TempDir()
	commitFile(t, repoDir)
	nestedDir := filepath.Join(repoDir, "a", "b")
	if err := os.MkdirAll(nestedDir, 0755); err != nil {
		t.Fatal(err)
	}

	if _, ok := Collect(nestedDir); !ok {
		t.Error("expected DetectDotGit to find the repository from a nested dir")
	}
}

func TestCollectOutsideRepo(t *testing.T) {
	if _, ok := Collect(t.TempDir()); ok {
		t.Error("expected no facts outside a repository")
	}
}

func TestCollectUnbornHead(t *testing.T) {
	repoDir := t.TempDir()
	if _, err := git.PlainInit(repoDir, false); err != nil {
		t.Fatal(err)
	}
	if _, ok := Collect(repoDir); ok {
		t.Error("expected no facts from a repo with no commits")
	}
}
