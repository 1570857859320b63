package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// AddFileToWorkTree stages a file in the given worktree
func AddFileToWorkTree(t *testing.T, workTree *git.Worktree, filePath string) {
	_, err := workTree.Add(filePath)
	if err != nil {
		t.Fatalf("failed to add file %s to worktree: %v", filePath, err)
	}
}

// WorkTreeCommit commits staged changes in the given worktree with the specified message
func WorkTreeCommit(t *testing.T, workTree *git.Worktree, message string) plumbing.Hash {
	hash, err := workTree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "Test User",
			Email: "noreply@test",
			When:  time.Now(),
		},
	})
	if err != nil {
		t.Fatalf("failed to commit changes: %v", err)
	}
	return hash
}

// NewBareOrigin creates a bare repository whose main branch holds files in a single commit.
// It returns the path of the repository, usable as clone URL.
func NewBareOrigin(t *testing.T, files map[string]string) string {
	t.Helper()

	originDir := t.TempDir()
	_, err := git.PlainInitWithOptions(originDir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
		Bare:        true,
	})
	require.NoError(t, err)

	seedDir := t.TempDir()
	seed, err := git.PlainInitWithOptions(seedDir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	require.NoError(t, err)
	_, err = seed.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{originDir}})
	require.NoError(t, err)

	commitFiles(t, seed, seedDir, files, "Initial commit")
	require.NoError(t, seed.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{"refs/heads/main:refs/heads/main"},
	}))
	return originDir
}

// CommitToOrigin writes files to branch of the origin repository in a new commit, like a
// concurrent writer would.
func CommitToOrigin(t *testing.T, originDir, branch string, files map[string]string, message string) plumbing.Hash {
	t.Helper()

	dir := t.TempDir()
	repo, err := git.PlainClone(dir, false, &git.CloneOptions{
		URL:           originDir,
		ReferenceName: plumbing.NewBranchReferenceName(branch),
	})
	require.NoError(t, err)

	hash := commitFiles(t, repo, dir, files, message)
	require.NoError(t, repo.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs:   []config.RefSpec{config.RefSpec("HEAD:" + plumbing.NewBranchReferenceName(branch))},
	}))
	return hash
}

// OriginHead returns the head commit of branch in the origin repository.
func OriginHead(t *testing.T, originDir, branch string) *object.Commit {
	t.Helper()

	repo, err := git.PlainOpen(originDir)
	require.NoError(t, err)
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	require.NoError(t, err)
	commit, err := repo.CommitObject(ref.Hash())
	require.NoError(t, err)
	return commit
}

// OriginFile returns the content of path at the head of branch in the origin repository.
func OriginFile(t *testing.T, originDir, branch, path string) string {
	t.Helper()

	file, err := OriginHead(t, originDir, branch).File(path)
	require.NoError(t, err)
	content, err := file.Contents()
	require.NoError(t, err)
	return content
}

// CountCommits returns the number of commits reachable from branch in the origin repository.
func CountCommits(t *testing.T, originDir, branch string) int {
	t.Helper()

	count := 0
	head := OriginHead(t, originDir, branch)
	err := object.NewCommitPreorderIter(head, nil, nil).ForEach(func(*object.Commit) error {
		count++
		return nil
	})
	require.NoError(t, err)
	return count
}

func commitFiles(t *testing.T, repo *git.Repository, dir string, files map[string]string, message string) plumbing.Hash {
	t.Helper()

	workTree, err := repo.Worktree()
	require.NoError(t, err)
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		WriteToFile(t, path, content)
		AddFileToWorkTree(t, workTree, name)
	}
	return WorkTreeCommit(t, workTree, message)
}
